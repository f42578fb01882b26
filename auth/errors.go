package auth

import (
	"github.com/marshallshelly/beaconauth-plugin/core"
)

var (
	// ErrMissingCredentials is returned by SignUp without a username or password
	ErrMissingCredentials = core.NewAuthError(core.ErrCodeBadRequest, "username and password are required", nil)

	// ErrDeleteNotConfirmed is returned by Delete without the confirmation phrase
	ErrDeleteNotConfirmed = core.NewAuthError(core.ErrCodeBadRequest, "account deletion was not confirmed", nil)
)
