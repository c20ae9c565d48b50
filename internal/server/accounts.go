package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/identity"
)

type tokensBody struct {
	Body identity.Tokens `json:"body"`
}

func registerAuth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange an API key for access and refresh tokens",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*tokensBody, error) {
		tokens, err := e.Login(ctx, input.Body.APIKey, callerFromContext(ctx).Origin)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &tokensBody{Body: tokens}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Rotate a refresh token",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest `json:"body"`
	}) (*tokensBody, error) {
		tokens, err := e.Refresh(ctx, input.Body.RefreshToken)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &tokensBody{Body: tokens}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Revoke a refresh token",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest `json:"body"`
	}) (*struct{}, error) {
		if err := e.Logout(ctx, input.Body.RefreshToken, callerFromContext(ctx).Origin); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	type actorPath struct {
		ActorID string `path:"actor_id"`
	}
	type actorBody struct {
		Body domain.Actor `json:"body"`
	}
	type roleInput struct {
		ActorID string `path:"actor_id"`
		Role    string `path:"role"`
	}
	type changedOutput struct {
		Body ChangedResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*actorBody, error) {
		c := callerFromContext(ctx)
		a, err := e.GetProfile(ctx, c, c.Principal.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &actorBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}",
		Summary:     "Get actor profile",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *actorPath) (*actorBody, error) {
		a, err := e.GetProfile(ctx, callerFromContext(ctx), input.ActorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &actorBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPatch,
		Path:        "/actors/{actor_id}",
		Summary:     "Update actor profile",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string               `path:"actor_id"`
		Body    UpdateProfileRequest `json:"body"`
	}) (*actorBody, error) {
		a, err := e.UpdateProfile(ctx, callerFromContext(ctx), input.ActorID, engine.ProfilePatch{
			DisplayName: input.Body.DisplayName,
			Email:       input.Body.Email,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &actorBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/actors/{actor_id}/api-keys",
		Summary:       "Create API key; the key is only returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string              `path:"actor_id"`
		Body    CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body engine.CreatedKey `json:"body"`
	}, error) {
		k, err := e.CreateAPIKey(ctx, callerFromContext(ctx), input.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.CreatedKey `json:"body"`
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/api-keys",
		Summary:     "List API keys (secrets are never returned)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *actorPath) (*struct {
		Body APIKeyList `json:"body"`
	}, error) {
		keys, err := e.ListAPIKeys(ctx, callerFromContext(ctx), input.ActorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body APIKeyList `json:"body"`
		}{Body: APIKeyList{Items: nonNil(keys)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/actors/{actor_id}/api-keys/{key_id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
		KeyID   string `path:"key_id"`
	}) (*struct{}, error) {
		if err := e.RevokeAPIKey(ctx, callerFromContext(ctx), input.ActorID, input.KeyID); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPut,
		Path:        "/actors/{actor_id}/roles/{role}",
		Summary:     "Grant a global role",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *roleInput) (*changedOutput, error) {
		changed, err := e.GrantRole(ctx, callerFromContext(ctx), input.ActorID, input.Role)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &changedOutput{Body: ChangedResponse{Changed: changed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodDelete,
		Path:        "/actors/{actor_id}/roles/{role}",
		Summary:     "Revoke a global role",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *roleInput) (*changedOutput, error) {
		changed, err := e.RevokeRole(ctx, callerFromContext(ctx), input.ActorID, input.Role)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &changedOutput{Body: ChangedResponse{Changed: changed}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries, newest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Action   string `query:"action"`
		ActorID  string `query:"actor_id"`
		From     string `query:"from"`
		To       string `query:"to"`
		AfterSeq int64  `query:"after_seq"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body AuditList `json:"body"`
	}, error) {
		items, err := e.ListAudit(ctx, callerFromContext(ctx), engine.AuditListOptions{
			Action:   input.Action,
			ActorID:  input.ActorID,
			From:     input.From,
			To:       input.To,
			AfterSeq: input.AfterSeq,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body AuditList `json:"body"`
		}{Body: AuditList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-actions",
		Method:      http.MethodGet,
		Path:        "/audit/actions",
		Summary:     "Audit action catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StringList `json:"body"`
	}, error) {
		return &struct {
			Body StringList `json:"body"`
		}{Body: StringList{Items: e.AuditActions()}}, nil
	})
}
