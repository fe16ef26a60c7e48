// pkg/config/validate.go

package config

import (
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-section rules tags cannot express.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if cerr.As(err, &verrs) {
			for _, fe := range verrs {
				errs = multierror.Append(errs, cerr.Newf("%s: failed %q%s", fieldPath(fe), fe.Tag(), param(fe)))
			}
		} else {
			errs = multierror.Append(errs, err)
		}
	}

	if c.Pool.TargetWarm > c.Thresholds.MaxWorkerCount {
		errs = multierror.Append(errs, cerr.Newf("pool.target_warm (%d) exceeds thresholds.max_worker_count (%d)",
			c.Pool.TargetWarm, c.Thresholds.MaxWorkerCount))
	}
	if c.Thresholds.MaxWorkerMemoryMB > c.Thresholds.WorkerMemoryCeilMB {
		errs = multierror.Append(errs, cerr.Newf("thresholds.max_worker_memory_mb (%d) exceeds thresholds.worker_memory_ceiling_mb (%d)",
			c.Thresholds.MaxWorkerMemoryMB, c.Thresholds.WorkerMemoryCeilMB))
	}
	if c.Audit.Mail.Enabled && len(c.Audit.Mail.To) == 0 {
		errs = multierror.Append(errs, cerr.New("audit.mail.to: at least one recipient is required when mail is enabled"))
	}
	for _, root := range c.Purge.Roots {
		if root == "/" || root == "." {
			errs = multierror.Append(errs, cerr.Newf("purge.roots: refusing to purge %q", root))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return warden_err.WrapValidationError(err)
	}
	return nil
}

// fieldPath renders a validator namespace as the YAML key path.
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func param(fe validator.FieldError) string {
	if fe.Param() == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", fe.Param())
}

var keyOverrides = map[string]string{
	"API":                 "api",
	"CPUWarning":          "cpu_warning",
	"CPUCritical":         "cpu_critical",
	"MaxWorkerCPUSeconds": "max_worker_cpu_seconds",
	"MaxWorkerMemoryMB":   "max_worker_memory_mb",
	"WorkerMemoryCeilMB":  "worker_memory_ceiling_mb",
	"IdleCPUPercent":      "idle_cpu_percent",
	"URL":                 "url",
}

func snake(s string) string {
	if k, ok := keyOverrides[s]; ok {
		return k
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
