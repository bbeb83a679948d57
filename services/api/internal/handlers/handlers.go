package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/diagnosis/afyaplus/internal/http/response"
	"github.com/diagnosis/afyaplus/pkg/auth"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Options carries the optional pieces of the router.
type Options struct {
	// RateLimit guards the USSD webhook and offer creation.
	RateLimit func(http.Handler) http.Handler
	// Idempotency replays POST responses for repeated Idempotency-Key headers.
	Idempotency func(http.Handler) http.Handler
	// StripeWebhookSecret enables the billing webhook when set.
	StripeWebhookSecret string
	// USSDServiceCodes restricts the USSD webhook to these dial codes when non-empty.
	USSDServiceCodes []string
}

type Handlers struct {
	identity      service.IdentityService
	marketplace   service.MarketplaceService
	profiles      service.ProfileService
	subscriptions service.SubscriptionService
	ussd          service.USSDService
	validate      *validator.Validate
	opts          Options
}

func New(
	identity service.IdentityService,
	marketplace service.MarketplaceService,
	profiles service.ProfileService,
	subscriptions service.SubscriptionService,
	ussd service.USSDService,
	opts Options,
) *Handlers {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handlers{
		identity:      identity,
		marketplace:   marketplace,
		profiles:      profiles,
		subscriptions: subscriptions,
		ussd:          ussd,
		validate:      v,
		opts:          opts,
	}
}

// Routes mounts every endpoint of the API.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	limited := passthrough(h.opts.RateLimit)
	idempotent := passthrough(h.opts.Idempotency)

	// Bearer-authenticated surface
	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(RequireUser)

		r.Route("/requests", func(r chi.Router) {
			r.With(idempotent).Post("/", h.CreateRequest)
			r.Get("/", h.ListMyRequests)
			r.Get("/open", h.ListOpenRequests)
			r.With(limited, idempotent).Post("/{id}/offers", h.CreateOffer)
		})

		r.Post("/offers/{id}/accept", h.AcceptOffer)

		r.Route("/doctors", func(r chi.Router) {
			r.Post("/register", h.RegisterDoctor)
			r.Get("/me", h.GetDoctorProfile)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/status", h.SubscriptionStatus)
			r.Post("/fcm-token", h.SaveFCMToken)
			r.Post("/save-fcm-token", h.SaveFCMToken)
			r.Post("/cancel", h.CancelSubscription)
		})
	})

	// Gateway callbacks authenticate by their own conventions.
	r.With(limited).Post("/subscriptions/ussd", h.USSD)
	r.Post("/subscriptions/billing/webhook", h.BillingWebhook)

	return r
}

func passthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw != nil {
		return mw
	}
	return func(next http.Handler) http.Handler { return next }
}

type userContextKey struct{}

// Authenticate resolves the bearer credential, if any. No header leaves the
// request anonymous; a malformed or rejected credential ends it with 401.
func (h *Handlers) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			response.Unauthorized(w, "Authentication failed")
			return
		}
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := h.identity.Resolve(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrUnauthenticated):
				logger.DebugContext(r.Context(), "Credential rejected", logger.Err(err))
				response.Unauthorized(w, "Authentication failed")
			case errors.Is(err, domain.ErrUnavailable):
				logger.ErrorContext(r.Context(), "Credential verifier unavailable", logger.Err(err))
				response.ServiceUnavailable(w, "Authentication service unavailable")
			default:
				logger.ErrorContext(r.Context(), "User provisioning failed", logger.Err(err))
				response.InternalError(w, "Internal server error")
			}
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		ctx = context.WithValue(ctx, logger.UserIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) == nil {
			response.Unauthorized(w, "Authentication credentials were not provided")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *domain.User {
	if u, ok := r.Context().Value(userContextKey{}).(*domain.User); ok {
		return u
	}
	return nil
}

// fail maps the error taxonomy onto HTTP. notFound is the message used for 404.
func fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		response.BadRequest(w, ve.Error())
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		response.Unauthorized(w, "Authentication failed")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "You do not have permission to perform this action")
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, notFound)
	case errors.Is(err, domain.ErrConflict):
		response.Conflict(w, "The request has already been closed")
	case errors.Is(err, domain.ErrUnavailable):
		response.ServiceUnavailable(w, "Service temporarily unavailable")
	default:
		logger.ErrorContext(r.Context(), "Request failed", logger.Err(err), "path", r.URL.Path)
		response.InternalError(w, "Internal server error")
	}
}

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and runs struct validation on it.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return domain.NewValidationError(typeErr.Field, "has the wrong type")
		}
		return domain.NewValidationError("body", "invalid JSON")
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(fe.Field(), validationMessage(fe))
		}
		return domain.NewValidationError("body", err.Error())
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "is too long"
	case "latitude", "longitude":
		return "is out of range"
	default:
		return "is invalid"
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

// Helper to parse pagination parameters
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 100
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
