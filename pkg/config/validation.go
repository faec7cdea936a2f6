package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Validate checks the state store and migrations sections for the selected types.
func (c *Config) Validate() error {
	var errs []error
	s := c.StateStore

	switch s.Type {
	case StateStoreMongoDB:
		if s.URL == "" {
			errs = append(errs, errors.New("state_store.url is required for mongodb"))
		}
		if s.Collection == "" {
			errs = append(errs, errors.New("state_store.collection is required for mongodb"))
		}
	case StateStoreRedis, StateStorePostgres, StateStoreMySQL:
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("state_store.url is required for %s", s.Type))
		}
	case StateStoreS3:
		if s.Bucket == "" {
			errs = append(errs, errors.New("state_store.bucket is required for s3"))
		}
		if s.Region == "" {
			errs = append(errs, errors.New("state_store.region is required for s3"))
		}
	case StateStoreDynamoDB:
		if s.Table == "" {
			errs = append(errs, errors.New("state_store.table is required for dynamodb"))
		}
		if s.Region == "" {
			errs = append(errs, errors.New("state_store.region is required for dynamodb"))
		}
	case StateStoreFile:
		if s.Path == "" {
			errs = append(errs, errors.New("state_store.path is required for file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported state_store.type %q (supported: mongodb, redis, postgres, mysql, s3, dynamodb, file)", s.Type))
	}
	if s.ConnectTimeout < 0 || s.OperationTimeout < 0 {
		errs = append(errs, errors.New("state_store timeouts cannot be negative"))
	}

	if c.Migrations.DatabaseURL != "" && c.Migrations.Driver != "postgres" && c.Migrations.Driver != "mysql" {
		errs = append(errs, fmt.Errorf("unsupported migrations.driver %q (supported: postgres, mysql)", c.Migrations.Driver))
	}

	return errors.Join(errs...)
}

// String returns the full configuration as a formatted string
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), reflect.Value{}, "")
}

// Redacted returns the configuration with secrets masked.
// Pass the secrets Config returned by LoadWithSecrets() to mask those values.
func (c *Config) Redacted(secrets *Config) string {
	if secrets == nil {
		return c.String()
	}
	return formatStruct(reflect.ValueOf(c).Elem(), reflect.ValueOf(secrets).Elem(), "")
}

// formatStruct renders v as indented key: value lines. Leaf fields set in mask
// are printed as ***. An invalid mask masks nothing.
func formatStruct(v, mask reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		name := strings.ToLower(field.Name)
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}

		if value.Kind() == reflect.Struct {
			fmt.Fprintf(&sb, "%s%s:\n", prefix, name)
			sb.WriteString(formatStruct(value, maskValue, prefix+"  "))
			continue
		}

		display := value.Interface()
		if shouldRedact(maskValue) {
			display = "***"
		}
		fmt.Fprintf(&sb, "%s%s: %v\n", prefix, name, display)
	}

	return sb.String()
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.Bool:
		return v.Bool()
	default:
		return false
	}
}
