// Package httptransport assembles the HTTP router: shared middleware, the
// feature handlers, the operator-gated group and the operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chronoseal/internal/idempotency"
	"chronoseal/internal/jwttoken"
	"chronoseal/internal/platform/middleware"
	"chronoseal/pkg/platform/middleware/auth"
	"chronoseal/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by every feature handler.
type Registrar interface {
	Register(r chi.Router)
}

// RegistrarFunc adapts a bare function to the Registrar interface.
type RegistrarFunc func(r chi.Router)

func (f RegistrarFunc) Register(r chi.Router) { f(r) }

// Deps carries everything the router mounts. Operator is registered behind
// the operator token gate together with the verify handler.
type Deps struct {
	Logger    *slog.Logger
	Guard     *idempotency.Guard
	Validator auth.Validator

	Chain    Registrar
	Merkle   Registrar
	Ledger   Registrar
	Notary   Registrar
	Operator Registrar
	Verify   Registrar
}

// NewRouter wires all endpoints. Mutating routes run behind the idempotency
// guard; requests without an Idempotency-Key pass straight through.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Group(func(api chi.Router) {
		if deps.Guard != nil {
			api.Use(idempotency.Middleware(deps.Guard))
		}
		deps.Chain.Register(api)
		deps.Merkle.Register(api)
		deps.Ledger.Register(api)
		deps.Notary.Register(api)
	})

	r.Group(func(operator chi.Router) {
		operator.Use(auth.RequireOperator(deps.Validator, jwttoken.RoleOperator, deps.Logger))
		deps.Operator.Register(operator)
		deps.Verify.Register(operator)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
