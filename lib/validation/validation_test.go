package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRequired(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   string
		wantErr bool
	}{
		{"valid string", "name", "test", false},
		{"empty string", "name", "", true},
		{"whitespace only", "name", "   ", true},
		{"tab only", "name", "\t", true},
		{"newline only", "name", "\n", true},
		{"valid with spaces", "name", " test ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Required(tt.field, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Required() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRequired) {
				t.Errorf("Required() error should wrap ErrRequired")
			}
		})
	}
}

func TestMaxLength(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   string
		max     int
		wantErr bool
	}{
		{"under max", "name", "test", 10, false},
		{"at max", "name", "test", 4, false},
		{"over max", "name", "testing", 4, true},
		{"empty string", "name", "", 10, false},
		{"unicode chars", "name", "日本語", 5, false},
		{"unicode over", "name", "日本語テスト", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MaxLength(tt.field, tt.value, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("MaxLength() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrTooLong) {
				t.Errorf("MaxLength() error should wrap ErrTooLong")
			}
		})
	}
}

func TestIntRange(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		min     int
		max     int
		wantErr bool
	}{
		{"within range", 5, 1, 10, false},
		{"at min", 1, 1, 10, false},
		{"at max", 10, 1, 10, false},
		{"below min", 0, 1, 10, true},
		{"above max", 11, 1, 10, true},
		{"negative", -5, 0, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := IntRange("field", tt.value, tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("IntRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOutOfRange) {
				t.Errorf("IntRange() error should wrap ErrOutOfRange")
			}
		})
	}
}

func TestPositive(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"positive", 1, false},
		{"large positive", 1000, false},
		{"zero", 0, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Positive("field", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Positive() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNonNegative(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"positive", 1, false},
		{"zero", 0, false},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NonNegative("field", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("NonNegative() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantDur  time.Duration
		wantErr  bool
		errCheck func(error) bool
	}{
		{"valid hours", "24h", 24 * time.Hour, false, nil},
		{"valid minutes", "30m", 30 * time.Minute, false, nil},
		{"valid seconds", "60s", 60 * time.Second, false, nil},
		{"valid complex", "1h30m", 90 * time.Minute, false, nil},
		{"empty string", "", 0, false, nil},
		{"invalid format", "invalid", 0, true, func(e error) bool { return errors.Is(e, ErrInvalidDuration) }},
		{"negative disables", "-1ms", -time.Millisecond, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Duration("field", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Duration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && d != tt.wantDur {
				t.Errorf("Duration() = %v, want %v", d, tt.wantDur)
			}
			if err != nil && tt.errCheck != nil && !tt.errCheck(err) {
				t.Errorf("Duration() error type mismatch: %v", err)
			}
		})
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid localhost", "127.0.0.1:8080", false},
		{"valid hostname", "localhost:5432", false},
		{"valid ipv6", "[::1]:8080", false},
		{"empty", "", true},
		{"no port", "127.0.0.1", true},
		{"no host", ":8080", false}, // This is actually valid in Go
		{"invalid format", "not-a-hostport", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HostPort("address", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("HostPort() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAll(t *testing.T) {
	t.Run("all pass", func(t *testing.T) {
		err := All(
			func() error { return nil },
			func() error { return nil },
		)
		if err != nil {
			t.Errorf("All() = %v, want nil", err)
		}
	})

	t.Run("first fails", func(t *testing.T) {
		expectedErr := errors.New("first error")
		err := All(
			func() error { return expectedErr },
			func() error { return nil },
		)
		if err != expectedErr {
			t.Errorf("All() = %v, want %v", err, expectedErr)
		}
	})

	t.Run("second fails", func(t *testing.T) {
		expectedErr := errors.New("second error")
		err := All(
			func() error { return nil },
			func() error { return expectedErr },
		)
		if err != expectedErr {
			t.Errorf("All() = %v, want %v", err, expectedErr)
		}
	})
}

func TestErrors(t *testing.T) {
	t.Run("empty collection", func(t *testing.T) {
		var errs Errors
		if errs.HasErrors() {
			t.Error("empty Errors should not HasErrors")
		}
		if errs.First() != nil {
			t.Error("empty Errors.First() should be nil")
		}
		if errs.Error() != "" {
			t.Error("empty Errors.Error() should be empty string")
		}
	})

	t.Run("add nil is ignored", func(t *testing.T) {
		var errs Errors
		errs.Add(nil)
		if errs.HasErrors() {
			t.Error("adding nil should not create error")
		}
	})

	t.Run("single error", func(t *testing.T) {
		var errs Errors
		e := errors.New("test error")
		errs.Add(e)

		if !errs.HasErrors() {
			t.Error("should HasErrors")
		}
		if errs.First() != e {
			t.Error("First() should return the error")
		}
		if errs.Error() != "test error" {
			t.Errorf("Error() = %q, want %q", errs.Error(), "test error")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		var errs Errors
		errs.Add(errors.New("first"))
		errs.Add(errors.New("second"))

		if len(errs) != 2 {
			t.Errorf("len(errs) = %d, want 2", len(errs))
		}
		if !strings.Contains(errs.Error(), "first") || !strings.Contains(errs.Error(), "second") {
			t.Errorf("Error() should contain both errors: %s", errs.Error())
		}
	})
}

func TestResult(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		r := NewResult("name", "is required", ErrRequired)
		if r.Error() != "name: is required" {
			t.Errorf("Error() = %q, want %q", r.Error(), "name: is required")
		}
		if !errors.Is(r, ErrRequired) {
			t.Error("should wrap ErrRequired")
		}
	})

	t.Run("without field", func(t *testing.T) {
		r := NewResult("", "general error", ErrInvalidFormat)
		if r.Error() != "general error" {
			t.Errorf("Error() = %q, want %q", r.Error(), "general error")
		}
	})
}

func TestAtLeast(t *testing.T) {
	if err := AtLeast("pool.max_size", 5, 5); err != nil {
		t.Errorf("AtLeast(5, 5) = %v, want nil", err)
	}
	err := AtLeast("pool.max_size", 4, 5)
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("AtLeast(4, 5) = %v, want ErrOutOfRange", err)
	}
	if !strings.HasPrefix(err.Error(), "pool.max_size: ") {
		t.Errorf("error should name the field: %s", err)
	}
}

func TestNonNegativeDuration(t *testing.T) {
	tests := []struct {
		name    string
		value   time.Duration
		wantErr bool
	}{
		{"zero", 0, false},
		{"positive", time.Second, false},
		{"negative", -time.Nanosecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NonNegativeDuration("timeout", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("NonNegativeDuration() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPoolName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"simple", "orders", nil},
		{"with separators", "orders-db_1.primary", nil},
		{"empty", "", ErrRequired},
		{"leading dash", "-orders", ErrInvalidFormat},
		{"space", "orders db", ErrInvalidFormat},
		{"too long", strings.Repeat("a", MaxPoolNameLength+1), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PoolName("name", tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("PoolName() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("PoolName() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSQLState(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"connection failure", "08006", false},
		{"admin shutdown", "57P01", false},
		{"lower case", "08s01", false},
		{"padded", " 08001 ", false},
		{"too short", "0800", true},
		{"too long", "080061", true},
		{"punctuation", "08-01", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SQLState("critical_sql_states", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("SQLState(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("SQLState() error should wrap ErrInvalidFormat")
			}
		})
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("logging.level", "debug", "debug", "info"); err != nil {
		t.Errorf("OneOf() = %v, want nil", err)
	}
	err := OneOf("logging.level", "loud", "debug", "info")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("OneOf() = %v, want ErrInvalidFormat", err)
	}
	if !strings.Contains(err.Error(), "debug, info") {
		t.Errorf("error should list allowed values: %s", err)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	var errs Errors
	if errs.Err() != nil {
		t.Error("empty Errors.Err() should be nil")
	}

	errs.Add(Positive("pool.max_size", 0))
	errs.Add(Required("datasource.dsn", ""))

	err := errs.Err()
	if err == nil {
		t.Fatal("Err() should not be nil")
	}
	if !errors.Is(err, ErrRequired) || !errors.Is(err, ErrOutOfRange) {
		t.Errorf("collected errors should be reachable through errors.Is: %v", err)
	}
	var r *Result
	if !errors.As(err, &r) || r.Field != "pool.max_size" {
		t.Errorf("errors.As should find the first Result, got %+v", r)
	}
}
