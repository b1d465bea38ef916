// Package stepconf parses configuration structs from environment variables.
//
// Fields are bound with the `env` struct tag: the first item is the variable name, the rest are
// constraints. Supported constraints: required, file, dir, size and opt[a,b,'c,d'].
package stepconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

// ErrNotStructPtr indicates a type is not a pointer to a struct.
var ErrNotStructPtr = errors.New("must be a pointer to a struct")

// ParseError occurs when a struct field cannot be set.
type ParseError struct {
	Field string
	Value string
	Err   error
}

// Error implements builtin errors.Error.
func (e *ParseError) Error() string {
	segments := []string{e.Field}
	if e.Value != "" {
		segments = append(segments, e.Value)
	}
	segments = append(segments, e.Err.Error())
	return strings.Join(segments, ": ")
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Secret variables are not shown in the printed output.
type Secret string

const secret = "*****"

// String implements fmt.Stringer.String.
// When a Secret is printed, it's masking the underlying string with asterisks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secret
}

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	secretType   = reflect.TypeOf(Secret(""))
)

// InputParser fills env-tagged structs.
type InputParser interface {
	Parse(input interface{}) error
}

type envInputParser struct {
	envGetter EnvGetter
}

// NewInputParser returns an InputParser reading variables through envGetter.
func NewInputParser(envGetter EnvGetter) InputParser {
	return envInputParser{envGetter: envGetter}
}

// Parse populates a struct with the retrieved values from environment variables
// described by struct tags and applies the defined validations.
func Parse(conf interface{}) error {
	return NewInputParser(env.NewRepository()).Parse(conf)
}

// Parse collects every field error before failing, so one run reports all bad inputs.
func (p envInputParser) Parse(conf interface{}) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr {
		return ErrNotStructPtr
	}
	c = c.Elem()
	if c.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	t := c.Type()

	var errs []string
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := p.envGetter.Get(key)

		shownValue := value
		if t.Field(i).Type == secretType {
			shownValue = Secret(value).String()
		}

		if err := setField(c.Field(i), value, constraint); err != nil {
			errs = append(errs, (&ParseError{Field: t.Field(i).Name, Value: shownValue, Err: err}).Error())
			continue
		}
		if err := validate(c.Field(i), value, constraint); err != nil {
			errs = append(errs, (&ParseError{Field: t.Field(i).Name, Value: shownValue, Err: err}).Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to parse config:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func parseTag(tag string) (string, string) {
	if idx := strings.Index(tag, ","); idx != -1 {
		return tag[:idx], tag[idx+1:]
	}
	return tag, ""
}

func setField(field reflect.Value, value, constraint string) error {
	if value == "" {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		// If field is a pointer type, then set its value to be a pointer to a new zero value, matching field underlying type.
		field.Set(reflect.New(field.Type().Elem()))
		field = field.Elem()
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return errors.New("can't convert to duration")
		}
		field.SetInt(int64(d))
		return nil
	}

	if constraint == "size" {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return errors.New("can't convert to byte size")
		}
		switch field.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			field.SetInt(size)
			return nil
		default:
			return errors.New("size constraint requires an integer field")
		}
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 0, field.Type().Bits())
		if err != nil {
			return errors.New("can't convert to int")
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 0, field.Type().Bits())
		if err != nil {
			return errors.New("can't convert to uint")
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return errors.New("can't convert to float")
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("type is not supported (%s)", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func validate(field reflect.Value, value, constraint string) error {
	switch constraint {
	case "":
		return nil
	case "required":
		if value == "" {
			return errors.New("required variable is not present")
		}
	case "file", "dir":
		if err := checkPath(value, constraint == "dir"); err != nil {
			return err
		}
	case "size":
		if field.Kind() == reflect.Ptr {
			field = field.Elem()
		}
		if field.IsValid() && field.Kind() >= reflect.Int && field.Kind() <= reflect.Int64 && field.Int() < 0 {
			return errors.New("size must not be negative")
		}
	default:
		if !strings.HasPrefix(constraint, "opt[") || !strings.HasSuffix(constraint, "]") {
			return fmt.Errorf("invalid constraint (%s)", constraint)
		}
		// an unset variable keeps a preset default
		if value == "" && field.IsValid() && !field.IsZero() {
			return nil
		}
		if !contains(value, constraint) {
			return errors.New("value is not in value options")
		}
	}
	return nil
}

func checkPath(path string, dir bool) error {
	file, err := os.Stat(path)
	if err != nil {
		// The directory/file doesn't exist
		return err
	}
	if dir && !file.IsDir() {
		return errors.New("not a directory")
	}
	if !dir && file.IsDir() {
		return errors.New("not a file")
	}
	return nil
}

// contains reports whether value is one of the options of an opt[...] constraint.
// Options containing a comma are wrapped in single quotes.
func contains(value, constraint string) bool {
	for _, opt := range valueOptions(constraint) {
		if opt == value {
			return true
		}
	}
	return false
}

func valueOptions(constraint string) []string {
	list := strings.TrimSuffix(strings.TrimPrefix(constraint, "opt["), "]")

	var options []string
	var current strings.Builder
	quoted := false
	for _, r := range list {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			options = append(options, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(options, current.String())
}

// Print the name of the struct with Title case in blue color with followed by a newline,
// then print all fields formatted as '- field name: field value` separated by newline.
func Print(config interface{}) {
	fmt.Print(toString(config))
}

func toString(config interface{}) string {
	v := reflect.ValueOf(config)
	t := reflect.TypeOf(config)

	if v.Kind() == reflect.Ptr {
		v = v.Elem()
		t = t.Elem()
	}

	name := t.Name()
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	str := colorstring.Bluef("%s:\n", name)

	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Name
		if tag, ok := t.Field(i).Tag.Lookup("env"); ok {
			key, _ = parseTag(tag)
		}

		value := valueString(v.Field(i))
		if value == "" || v.Field(i).IsZero() {
			value = "<unset>"
		}
		str += fmt.Sprintf("- %s: %s\n", key, value)
	}
	return str
}

// valueString returns the string representation of a value.
// Nil pointers are represented by an empty string.
func valueString(v reflect.Value) string {
	if v.Kind() != reflect.Ptr {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", v.Interface())
	}

	if !v.IsNil() {
		return fmt.Sprintf("%v", v.Elem().Interface())
	}
	return ""
}
