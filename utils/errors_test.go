package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestConfigValidationErrors(t *testing.T) {
	inner := errors.New("bad value")
	err := NewConfigValidationError("registration.kernel", inner)
	test.That(t, err, test.ShouldBeError, `error validating "registration.kernel": bad value`)
	test.That(t, errors.Is(err, inner), test.ShouldBeTrue)

	err = NewConfigValidationFieldRequiredError("registration", "method")
	test.That(t, err, test.ShouldBeError, `error validating "registration": "method" is required`)
}
