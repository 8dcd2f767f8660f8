package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrDeadlineRequired is returned when backoff is enabled without a call
// deadline, which would let a persistently failing server retry forever.
var ErrDeadlineRequired = errors.New("ipa.deadline is required when ipa.backoff is nonzero")

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.IPA.Backoff > 0 && cfg.IPA.Deadline <= 0 {
		return ErrDeadlineRequired
	}

	if cfg.IPA.InsecureTLS && cfg.IPA.CACert != "" {
		return fmt.Errorf("ipa.insecure_tls and ipa.ca_cert are mutually exclusive")
	}

	if cfg.TripleO.Enabled && len(cfg.TripleO.Controllers) == 0 {
		return fmt.Errorf("tripleo.controllers must list at least one controller when tripleo is enabled")
	}

	return nil
}
