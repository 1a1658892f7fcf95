package recipe

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// ScriptStrategy is the name of the strategy HCL recipes build with.
const ScriptStrategy = "script"

// hclFile is the top-level structure of a recipe file.
type hclFile struct {
	Packages []*hclPackage `hcl:"package,block"`
}

type hclPackage struct {
	Name        string         `hcl:"name,label"`
	Homepage    string         `hcl:"homepage,optional"`
	Description string         `hcl:"description,optional"`
	Serialize   bool           `hcl:"serialize,optional"`
	Versions    []*hclVersion  `hcl:"version,block"`
	Variants    []*hclVariant  `hcl:"variant,block"`
	Depends     []*hclDepends  `hcl:"depends_on,block"`
	Provides    []*hclProvides `hcl:"provides,block"`
	Invalid     []*hclInvalid  `hcl:"invalid,block"`
	Requires    []*hclRequires `hcl:"requires,block"`
	Exports     []*hclExport   `hcl:"export,block"`
	Patch       *hclHook       `hcl:"patch,block"`
	Setup       *hclHook       `hcl:"setup,block"`
	Install     *hclHook       `hcl:"install,block"`
}

type hclVersion struct {
	ID        string `hcl:"id,label"`
	URL       string `hcl:"url,optional"`
	Checksum  string `hcl:"checksum,optional"`
	Git       string `hcl:"git,optional"`
	SVN       string `hcl:"svn,optional"`
	Branch    string `hcl:"branch,optional"`
	Tag       string `hcl:"tag,optional"`
	Commit    string `hcl:"commit,optional"`
	Revision  string `hcl:"revision,optional"`
	External  string `hcl:"external,optional"`
	Preferred bool   `hcl:"preferred,optional"`
}

type hclVariant struct {
	Name        string         `hcl:"name,label"`
	Default     hcl.Expression `hcl:"default"`
	Values      []string       `hcl:"values,optional"`
	Description string         `hcl:"description,optional"`
}

type hclDepends struct {
	Target string `hcl:"target,label"`
	When   string `hcl:"when,optional"`
	Type   string `hcl:"type,optional"`
}

type hclProvides struct {
	Virtual string `hcl:"virtual,label"`
	When    string `hcl:"when,optional"`
}

type hclInvalid struct {
	When    string `hcl:"when,label"`
	Message string `hcl:"message,optional"`
}

type hclRequires struct {
	Require string `hcl:"require,label"`
	When    string `hcl:"when,optional"`
	Message string `hcl:"message,optional"`
}

type hclExport struct {
	Name  string `hcl:"name,label"`
	Value string `hcl:"value"`
	When  string `hcl:"when,optional"`
}

type hclHook struct {
	Runs []*hclRun `hcl:"run,block"`
}

type hclRun struct {
	Args hcl.Expression `hcl:"args"`
	Dir  hcl.Expression `hcl:"dir,optional"`
	Env  hcl.Expression `hcl:"env,optional"`
	When string         `hcl:"when,optional"`
}

// LoadHCL loads the recipes of every .hcl file found under paths, which may
// be files or directories. Files are read in lexical order.
func LoadHCL(paths ...string) ([]Recipe, error) {
	parser := hclparse.NewParser()
	var out []Recipe
	for _, p := range paths {
		files, err := findHCLFiles(p)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			f, diags := parser.ParseHCLFile(file)
			if diags.HasErrors() {
				return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
			}
			rcs, err := decodeRecipes(file, f)
			if err != nil {
				return nil, err
			}
			out = append(out, rcs...)
		}
	}
	return out, nil
}

// ParseHCL parses recipes from src. filename is used in diagnostics.
func ParseHCL(filename string, src []byte) ([]Recipe, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decodeRecipes(filename, f)
}

func findHCLFiles(root string) ([]string, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("recipe path %s: %w", root, err)
	}
	if !fi.IsDir() {
		return []string{root}, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find recipe files in %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func decodeRecipes(filename string, f *hcl.File) ([]Recipe, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	out := make([]Recipe, 0, len(parsed.Packages))
	for _, p := range parsed.Packages {
		rc, err := newHCLRecipe(p)
		if err != nil {
			return nil, fmt.Errorf("%s: package %q: %w", filename, p.Name, err)
		}
		out = append(out, rc)
	}
	return out, nil
}

// hclRecipe is a recipe declared in an HCL file.
type hclRecipe struct {
	def   *Definition
	hooks map[string][]command
}

type command struct {
	args hcl.Expression
	dir  hcl.Expression
	env  hcl.Expression
	when constraint.Predicate
}

func newHCLRecipe(p *hclPackage) (*hclRecipe, error) {
	def := &Definition{
		Name:        p.Name,
		Homepage:    p.Homepage,
		Description: p.Description,
		Serialize:   p.Serialize,
	}

	for _, v := range p.Versions {
		decl, err := decodeVersion(v)
		if err != nil {
			return nil, err
		}
		def.Versions = append(def.Versions, decl)
	}
	for _, v := range p.Variants {
		vd, err := decodeVariant(v)
		if err != nil {
			return nil, err
		}
		def.Variants = append(def.Variants, vd)
	}
	for _, d := range p.Depends {
		e, err := ParseEdge(d.Target, d.When)
		if err != nil {
			return nil, err
		}
		switch DepType(d.Type) {
		case DepDefault, DepBuild, DepLink:
			e.Type = DepType(d.Type)
		default:
			return nil, fmt.Errorf("dependency %s: unknown type %q", d.Target, d.Type)
		}
		def.Edges = append(def.Edges, e)
	}
	for _, pr := range p.Provides {
		when, err := optionalPredicate(pr.When)
		if err != nil {
			return nil, fmt.Errorf("provides %s: %w", pr.Virtual, err)
		}
		def.Provides = append(def.Provides, Provide{Virtual: pr.Virtual, When: when})
	}
	for _, in := range p.Invalid {
		when, err := constraint.Parse(in.When)
		if err != nil {
			return nil, fmt.Errorf("invalid: %w", err)
		}
		def.Invalid = append(def.Invalid, Rule{When: when, Message: in.Message})
	}
	for _, rq := range p.Requires {
		req, err := constraint.Parse(rq.Require)
		if err != nil {
			return nil, fmt.Errorf("requires: %w", err)
		}
		when, err := optionalPredicate(rq.When)
		if err != nil {
			return nil, fmt.Errorf("requires %s: %w", rq.Require, err)
		}
		def.Requires = append(def.Requires, Requirement{When: when, Require: req, Message: rq.Message})
	}
	for _, ex := range p.Exports {
		when, err := optionalPredicate(ex.When)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", ex.Name, err)
		}
		def.Exports = append(def.Exports, Export{Name: ex.Name, Value: ex.Value, When: when})
	}

	r := &hclRecipe{def: def, hooks: map[string][]command{}}
	for name, h := range map[string]*hclHook{HookPatch: p.Patch, HookSetup: p.Setup, HookInstall: p.Install} {
		if h == nil {
			continue
		}
		for _, run := range h.Runs {
			when, err := optionalPredicate(run.When)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			r.hooks[name] = append(r.hooks[name], command{args: run.Args, dir: run.Dir, env: run.Env, when: when})
		}
	}
	return r, nil
}

func decodeVersion(v *hclVersion) (VersionDecl, error) {
	ver, err := semver.ParseVersion(v.ID)
	if err != nil {
		return VersionDecl{}, err
	}
	decl := VersionDecl{Version: ver, Preferred: v.Preferred}
	switch {
	case v.External != "":
		decl.Fetch = External(v.External)
	case v.Git != "":
		decl.Fetch = Fetch{Kind: FetchGit, URL: v.Git, Branch: v.Branch, Tag: v.Tag, Commit: v.Commit}
	case v.SVN != "":
		decl.Fetch = Fetch{Kind: FetchSVN, URL: v.SVN, Revision: v.Revision}
	case v.URL != "":
		decl.Fetch = Archive(v.URL, v.Checksum)
	}
	return decl, nil
}

func decodeVariant(v *hclVariant) (variant.Definition, error) {
	val, diags := v.Default.Value(nil)
	if diags.HasErrors() {
		return variant.Definition{}, fmt.Errorf("variant %s: %w", v.Name, diags)
	}
	if val.IsNull() {
		return variant.Definition{}, fmt.Errorf("variant %s: default is required", v.Name)
	}
	if val.Type() == cty.Bool && len(v.Values) == 0 {
		return variant.Bool(v.Name, val.True(), v.Description), nil
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return variant.Definition{}, fmt.Errorf("variant %s: default: %w", v.Name, err)
	}
	if len(v.Values) == 0 {
		return variant.Definition{}, fmt.Errorf("variant %s: non-boolean variant needs values", v.Name)
	}
	return variant.Enum(v.Name, str.AsString(), v.Values, v.Description), nil
}

func optionalPredicate(s string) (constraint.Predicate, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return constraint.Parse(s)
}

func (r *hclRecipe) Definition() *Definition { return r.def }

func (r *hclRecipe) Strategy(s constraint.Subject) (Strategy, error) {
	if st, ok := ExistingFor(r.def, s); ok {
		return st, nil
	}
	if len(r.hooks[HookInstall]) == 0 {
		return nil, fmt.Errorf("no install commands for version %s", s.PackageVersion())
	}
	return &scriptStrategy{hooks: r.hooks}, nil
}

// scriptStrategy runs the command blocks of an HCL recipe. Command
// arguments are templates evaluated against the spec being built.
type scriptStrategy struct {
	hooks map[string][]command
}

func (s *scriptStrategy) Name() string { return ScriptStrategy }

func (s *scriptStrategy) Patch(ctx context.Context, h *HookContext) error {
	return s.run(ctx, h, HookPatch)
}

func (s *scriptStrategy) Setup(ctx context.Context, h *HookContext) error {
	return s.run(ctx, h, HookSetup)
}

func (s *scriptStrategy) Install(ctx context.Context, h *HookContext) error {
	return s.run(ctx, h, HookInstall)
}

func (s *scriptStrategy) run(ctx context.Context, h *HookContext, hook string) error {
	cmds := s.hooks[hook]
	if len(cmds) == 0 {
		return nil
	}
	evalCtx := hookEvalContext(h)
	for _, c := range cmds {
		if c.when != nil && !c.when.Eval(h.Spec) {
			continue
		}
		args, err := evalStrings(c.args, evalCtx)
		if err != nil {
			return fmt.Errorf("evaluating args: %w", err)
		}
		if len(args) == 0 {
			return fmt.Errorf("empty command")
		}
		dir, err := evalString(c.dir, evalCtx)
		if err != nil {
			return fmt.Errorf("evaluating dir: %w", err)
		}
		env, err := evalEnv(c.env, evalCtx)
		if err != nil {
			return fmt.Errorf("evaluating env: %w", err)
		}
		if err := h.RunIn(ctx, dir, env, args[0], args[1:]...); err != nil {
			return err
		}
	}
	return nil
}

var hookFunctions = map[string]function.Function{
	"join":   stdlib.JoinFunc,
	"upper":  stdlib.UpperFunc,
	"lower":  stdlib.LowerFunc,
	"format": stdlib.FormatFunc,
	"concat": stdlib.ConcatFunc,
}

// hookEvalContext exposes the spec to command templates:
// name, version, compiler, prefix, stage, jobs, variants and deps.
func hookEvalContext(h *HookContext) *hcl.EvalContext {
	s := h.Spec

	variants := map[string]cty.Value{}
	for _, a := range s.Variants().Assignments() {
		variants[a.Name] = cty.StringVal(a.Value)
	}

	deps := map[string]cty.Value{}
	s.Traverse(func(d *spec.Spec) {
		if d == s {
			return
		}
		caps := map[string]cty.Value{}
		for k, v := range d.Capabilities() {
			caps[k] = cty.StringVal(v)
		}
		val := cty.ObjectVal(map[string]cty.Value{
			"prefix":       cty.StringVal(d.Prefix()),
			"version":      cty.StringVal(d.Version().String()),
			"hash":         cty.StringVal(d.Hash()),
			"capabilities": mapOrEmpty(caps),
		})
		deps[d.Name()] = val
		for _, v := range d.Provides() {
			deps[v] = val
		}
	})

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"name":     cty.StringVal(s.Name()),
			"version":  cty.StringVal(s.Version().String()),
			"compiler": cty.StringVal(s.Compiler().Name),
			"prefix":   cty.StringVal(h.Prefix),
			"stage":    cty.StringVal(h.Stage),
			"jobs":     cty.NumberIntVal(int64(max(h.Jobs, 1))),
			"variants": objectOrEmpty(variants),
			"deps":     objectOrEmpty(deps),
		},
		Functions: hookFunctions,
	}
}

func objectOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(m)
}

func mapOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.MapValEmpty(cty.String)
	}
	return cty.MapVal(m)
}

func evalStrings(expr hcl.Expression, ctx *hcl.EvalContext) ([]string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	list, err := convert.Convert(val, cty.List(cty.String))
	if err != nil {
		return nil, err
	}
	var out []string
	for it := list.ElementIterator(); it.Next(); {
		_, v := it.Element()
		if v.IsNull() {
			return nil, fmt.Errorf("null argument")
		}
		out = append(out, v.AsString())
	}
	return out, nil
}

func evalString(expr hcl.Expression, ctx *hcl.EvalContext) (string, error) {
	if expr == nil {
		return "", nil
	}
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return "", diags
	}
	if val.IsNull() {
		return "", nil
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", err
	}
	return str.AsString(), nil
}

func evalEnv(expr hcl.Expression, ctx *hcl.EvalContext) ([]string, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	m, err := convert.Convert(val, cty.Map(cty.String))
	if err != nil {
		return nil, err
	}
	var env []string
	for k, v := range m.AsValueMap() {
		env = append(env, k+"="+v.AsString())
	}
	sort.Strings(env)
	return env, nil
}
