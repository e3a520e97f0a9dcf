package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}

// Output 是工具体的返回值：Data 供展示，Text 回传给模型。
type Output struct {
	Data any
	Text string
}

// Definition 把一个强类型的工具体适配为 Tool：负责 JSON 解码、结构体标签校验、
// schema 生成以及 panic 恢复。必须以指针形式使用。
type Definition[I any] struct {
	ToolName        string
	Prompt          string
	ReadOnly        bool
	ConcurrencySafe bool

	// Permission reports whether this input needs confirmation; nil means !ReadOnly.
	Permission func(in I) bool
	Validate   func(ctx context.Context, in I, tctx *Context) error
	Describe   func(in I) string
	Command    func(in I) (string, bool)
	Run        func(ctx context.Context, in I, tctx *Context, progress func(string)) (Output, error)

	schemaOnce sync.Once
	schema     map[string]any
}

var _ Tool = (*Definition[struct{}])(nil)

func (d *Definition[I]) Name() string            { return d.ToolName }
func (d *Definition[I]) Description() string     { return d.Prompt }
func (d *Definition[I]) IsReadOnly() bool        { return d.ReadOnly }
func (d *Definition[I]) IsConcurrencySafe() bool { return d.ConcurrencySafe }

// InputSchema 由输入结构体反射生成（jsonschema 标签提供描述）。
func (d *Definition[I]) InputSchema() map[string]any {
	d.schemaOnce.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true, Anonymous: true}
		raw, err := json.Marshal(r.Reflect(new(I)))
		schema := map[string]any{}
		if err == nil {
			_ = json.Unmarshal(raw, &schema)
		}
		delete(schema, "$schema")
		delete(schema, "$id")
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
		}
		d.schema = schema
	})
	return d.schema
}

func (d *Definition[I]) CheckSchema(input json.RawMessage) error {
	_, err := d.decode(input)
	return err
}

func (d *Definition[I]) NeedsPermissions(input json.RawMessage) bool {
	in, err := d.decode(input)
	if err != nil {
		return !d.ReadOnly
	}
	if d.Permission != nil {
		return d.Permission(in)
	}
	return !d.ReadOnly
}

func (d *Definition[I]) ValidateInput(ctx context.Context, input json.RawMessage, tctx *Context) error {
	in, err := d.decode(input)
	if err != nil {
		return err
	}
	if d.Validate == nil {
		return nil
	}
	return d.Validate(ctx, in, tctx)
}

func (d *Definition[I]) PermissionDescription(input json.RawMessage) string {
	in, err := d.decode(input)
	if err != nil || d.Describe == nil {
		return fmt.Sprintf("%s(%s)", d.ToolName, compactJSON(input))
	}
	return d.Describe(in)
}

func (d *Definition[I]) CommandOf(input json.RawMessage) (string, bool) {
	if d.Command == nil {
		return "", false
	}
	in, err := d.decode(input)
	if err != nil {
		return "", false
	}
	return d.Command(in)
}

func (d *Definition[I]) Call(ctx context.Context, input json.RawMessage, tctx *Context) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				out <- Failure(fmt.Errorf("%s panicked: %v", d.ToolName, r))
			}
		}()
		in, err := d.decode(input)
		if err != nil {
			out <- Failure(err)
			return
		}
		progress := func(content string) {
			select {
			case out <- Progress(content):
			case <-ctx.Done():
			}
		}
		res, err := d.Run(ctx, in, tctx, progress)
		if err != nil {
			out <- Failure(err)
			return
		}
		out <- Result(res.Data, res.Text)
	}()
	return out
}

func (d *Definition[I]) decode(input json.RawMessage) (I, error) {
	var in I
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, NewInputError("%s", describeDecodeError(err))
	}
	if err := validate.Struct(in); err != nil {
		return in, formatValidation(err)
	}
	return in, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("The parameter `%s` type is expected as `%s` but provided as `%s`", typeErr.Field, typeErr.Type, typeErr.Value)
	}
	return strings.TrimPrefix(err.Error(), "json: ")
}

func formatValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewInputError("%s", err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("The required parameter `%s` is missing", fe.Field()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("The parameter `%s` must be at least %s", fe.Field(), fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("The parameter `%s` must be at most %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("The parameter `%s` failed the `%s` check", fe.Field(), fe.Tag()))
		}
	}
	return &InputError{Message: strings.Join(msgs, "\n")}
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
