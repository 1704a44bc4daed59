package transfer

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/ignite/funnel-studio/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	must(v.RegisterValidation("notblank", validators.NotBlank))
	must(v.RegisterValidation("blocktype", func(fl validator.FieldLevel) bool {
		return domain.BlockType(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("version1", func(fl validator.FieldLevel) bool {
		major, _, _ := strings.Cut(fl.Field().String(), ".")
		return major == "1"
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Validate checks a parsed document and decodes it. Shape problems (missing
// fields, wrong JSON types) and value problems (blank name, negative
// order_index, unknown block type, unsupported version, duplicate stage
// order_index) are all collected. The document is returned only when there
// are no issues.
func Validate(parsed any) (*Document, ValidationErrors) {
	w := &walker{seq: map[string]int{}}
	doc := w.document(parsed)
	if doc == nil {
		return nil, w.issues
	}

	issues := w.issues
	if err := validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			issues = append(issues, domain.Issue{Path: "", Message: err.Error()})
		}
		for _, fe := range verrs {
			path := fieldPath(fe)
			if w.covered(path) || (fe.Tag() == "unique" && w.orderIndexReported()) {
				continue
			}
			issues = append(issues, domain.Issue{Path: path, Message: ruleMessage(fe), Code: "invalid_value"})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool { return w.position(issues[i].Path) < w.position(issues[j].Path) })
	if len(issues) > 0 {
		return nil, issues
	}
	return doc, nil
}

// Read parses and validates raw bytes. The error is a *ParseError or a
// ValidationErrors.
func Read(raw []byte) (*Document, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	doc, issues := Validate(parsed)
	if len(issues) > 0 {
		return nil, issues
	}
	return doc, nil
}

// fieldPath turns "Document.stages[0].blocks[1].type" into
// "stages[0].blocks[1].type".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "must not be blank"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "blocktype":
		return fmt.Sprintf("unknown block type %q", fe.Value())
	case "version1":
		return fmt.Sprintf("unsupported version %q, expected 1.x", fe.Value())
	case "unique":
		return "stages must have unique order_index values"
	}
	return "is invalid"
}

// walker checks the presence and JSON type of every schema field while
// building the typed document from the generic value.
type walker struct {
	issues ValidationErrors
	seq    map[string]int
}

func (w *walker) visit(path string) {
	if _, ok := w.seq[path]; !ok {
		w.seq[path] = len(w.seq)
	}
}

func (w *walker) position(path string) int {
	if p, ok := w.seq[path]; ok {
		return p
	}
	return math.MaxInt
}

func (w *walker) add(path, msg, code string) {
	w.visit(path)
	w.issues = append(w.issues, domain.Issue{Path: path, Message: msg, Code: code})
}

// covered reports whether path or one of its ancestors already has an issue.
func (w *walker) covered(path string) bool {
	for _, is := range w.issues {
		if is.Path == path || strings.HasPrefix(path, is.Path+".") || strings.HasPrefix(path, is.Path+"[") {
			return true
		}
	}
	return false
}

// orderIndexReported reports whether some stage's order_index (or the whole
// stage) already has a shape issue, which would also surface as a duplicate.
func (w *walker) orderIndexReported() bool {
	for _, is := range w.issues {
		if !strings.HasPrefix(is.Path, "stages[") {
			continue
		}
		if strings.HasSuffix(is.Path, ".order_index") || !strings.Contains(is.Path, ".") {
			return true
		}
	}
	return false
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func index(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}

// field looks up key, recording the path. Missing and null are the same.
func (w *walker) field(obj map[string]any, parent, key string, required bool) (any, string, bool) {
	path := join(parent, key)
	w.visit(path)
	v, ok := obj[key]
	if !ok || v == nil {
		if required {
			w.add(path, "is required", "required")
		}
		return nil, path, false
	}
	return v, path, true
}

func (w *walker) str(obj map[string]any, parent, key string, required bool) string {
	v, path, ok := w.field(obj, parent, key, required)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		w.add(path, "must be a string", "type")
	}
	return s
}

func (w *walker) integer(obj map[string]any, parent, key string, required bool) int {
	v, path, ok := w.field(obj, parent, key, required)
	if !ok {
		return 0
	}
	f, isNum := v.(float64)
	if !isNum || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		w.add(path, "must be an integer", "type")
		return 0
	}
	return int(f)
}

func (w *walker) boolean(obj map[string]any, parent, key string) *bool {
	v, path, ok := w.field(obj, parent, key, false)
	if !ok {
		return nil
	}
	b, isBool := v.(bool)
	if !isBool {
		w.add(path, "must be a boolean", "type")
		return nil
	}
	return &b
}

func (w *walker) object(obj map[string]any, parent, key string, required bool) map[string]any {
	v, path, ok := w.field(obj, parent, key, required)
	if !ok {
		return nil
	}
	m, isObj := v.(map[string]any)
	if !isObj {
		w.add(path, "must be an object", "type")
		return nil
	}
	return m
}

func (w *walker) array(obj map[string]any, parent, key string, required bool) ([]any, string) {
	v, path, ok := w.field(obj, parent, key, required)
	if !ok {
		return nil, path
	}
	a, isArr := v.([]any)
	if !isArr {
		w.add(path, "must be an array", "type")
		return nil, path
	}
	return a, path
}

func (w *walker) document(v any) *Document {
	root, ok := v.(map[string]any)
	if !ok {
		w.add("", "document must be a JSON object", "type")
		return nil
	}
	doc := &Document{
		Name:         w.str(root, "", "name", true),
		Slug:         w.str(root, "", "slug", false),
		GlobalConfig: w.object(root, "", "globalConfig", false),
	}
	stages, stagesPath := w.array(root, "", "stages", true)
	if stages != nil {
		doc.Stages = make([]StageDoc, 0, len(stages))
	}
	for i, raw := range stages {
		doc.Stages = append(doc.Stages, w.stage(raw, index(stagesPath, i)))
	}
	doc.ExportDate = w.str(root, "", "exportDate", false)
	doc.Version = w.str(root, "", "version", true)
	return doc
}

func (w *walker) stage(v any, path string) StageDoc {
	w.visit(path)
	obj, ok := v.(map[string]any)
	if !ok {
		w.add(path, "must be an object", "type")
		return StageDoc{}
	}
	sd := StageDoc{
		ID:         w.str(obj, path, "id", false),
		Type:       w.str(obj, path, "type", true),
		Title:      w.str(obj, path, "title", true),
		OrderIndex: w.integer(obj, path, "order_index", true),
		IsEnabled:  w.boolean(obj, path, "is_enabled"),
		Config:     w.object(obj, path, "config", false),
	}
	blocks, blocksPath := w.array(obj, path, "blocks", false)
	if blocks != nil {
		sd.Blocks = make([]BlockDoc, 0, len(blocks))
	}
	for i, raw := range blocks {
		sd.Blocks = append(sd.Blocks, w.block(raw, index(blocksPath, i)))
	}
	return sd
}

func (w *walker) block(v any, path string) BlockDoc {
	w.visit(path)
	obj, ok := v.(map[string]any)
	if !ok {
		w.add(path, "must be an object", "type")
		return BlockDoc{}
	}
	return BlockDoc{
		ID:      w.str(obj, path, "id", true),
		Type:    w.str(obj, path, "type", true),
		Order:   w.integer(obj, path, "order", false),
		Content: w.object(obj, path, "content", true),
		Style:   w.object(obj, path, "style", false),
	}
}
