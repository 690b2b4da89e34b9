package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether a given field failed validation.
func (e ValidationErrors) Has(field string) bool {
	for _, v := range e {
		if v.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
// The returned error, if any, is a ValidationErrors.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateHTTP(&c.HTTP)...)
	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateCatalog(&c.Catalog)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range (0-65535)", s.Port),
		})
	}
	if s.MaxClients < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.max_clients",
			Message: "max clients must be at least 1",
		})
	}
	if s.Host != "" && net.ParseIP(s.Host) == nil && strings.ContainsAny(s.Host, " /:") {
		errs = append(errs, ValidationError{
			Field:   "server.host",
			Message: fmt.Sprintf("invalid host %q", s.Host),
		})
	}

	return errs
}

func validateHTTP(h *HTTPConfig) ValidationErrors {
	if !h.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		return ValidationErrors{{
			Field:   "http.addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", h.Addr, err),
		}}
	}
	return nil
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	switch c.Source {
	case SourceEvdev:
		if c.DevicesFile == "" {
			errs = append(errs, ValidationError{
				Field:   "capture.devices_file",
				Message: "devices file is required for the evdev source",
			})
		}
		if c.InputDir == "" {
			errs = append(errs, ValidationError{
				Field:   "capture.input_dir",
				Message: "input directory is required for the evdev source",
			})
		}
	case SourceReplay:
		if c.ReplayFile == "" {
			errs = append(errs, ValidationError{
				Field:   "capture.replay_file",
				Message: "replay file is required for the replay source",
			})
		}
	case SourceNone:
	default:
		errs = append(errs, ValidationError{
			Field:   "capture.source",
			Message: fmt.Sprintf("invalid source: %s (valid: evdev, replay, none)", c.Source),
		})
	}

	if c.ReplayIntervalMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "capture.replay_interval_ms",
			Message: "replay interval cannot be negative",
		})
	}

	return errs
}

func validateCatalog(c *CatalogConfig) ValidationErrors {
	if c.Enabled && c.Path == "" {
		return ValidationErrors{{
			Field:   "catalog.path",
			Message: "path is required when the catalog is enabled",
		}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes a file",
			})
		}
		if l.MaxSizeMB < 1 {
			errs = append(errs, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "max size must be at least 1 MB",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.QueueSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.queue_size",
			Message: "queue size cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if m.StatusIntervalSec < 0 {
		return ValidationErrors{{
			Field:   "metrics.status_interval_sec",
			Message: "status interval cannot be negative",
		}}
	}
	return nil
}
