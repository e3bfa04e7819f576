package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// providerError wraps err for provider/model, classifying it with the
// provider-specific kind when known and the generic rules otherwise.
func providerError(provider, model string, kind domain.ProviderErrorKind, err error) *domain.ProviderError {
	if kind == "" || kind == domain.ProviderUnknown {
		kind = classifyGeneric(err)
	}
	return &domain.ProviderError{Provider: provider, Model: model, Kind: kind, Err: err}
}

// classifyGeneric maps transport-level failures that look the same for
// every backend.
func classifyGeneric(err error) domain.ProviderErrorKind {
	switch {
	case err == nil:
		return domain.ProviderUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ProviderTimeout
	case errors.Is(err, domain.ErrMalformedResponse):
		return domain.ProviderInvalidResponse
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ProviderTimeout
		}
		return domain.ProviderUnavailable
	}
	return domain.ProviderUnknown
}

// classifyStatus maps an HTTP status returned by a model API.
func classifyStatus(code int) domain.ProviderErrorKind {
	switch {
	case code == http.StatusNotFound:
		return domain.ProviderModelNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ProviderAccessDenied
	case code == http.StatusTooManyRequests:
		return domain.ProviderThrottled
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return domain.ProviderTimeout
	case code >= 500:
		return domain.ProviderUnavailable
	}
	return domain.ProviderUnknown
}
