package intent

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Invocation
		wantErr bool
	}{
		{
			name:  "write with path key",
			input: `{"tool":"Write","input":{"path":"src/foo.ts"}}`,
			want:  Invocation{Kind: KindWrite, Path: "src/foo.ts"},
		},
		{
			name:  "write with file_path key",
			input: `{"tool":"Write","input":{"file_path":"src/foo.ts"}}`,
			want:  Invocation{Kind: KindWrite, Path: "src/foo.ts"},
		},
		{
			name:  "file_path wins over path",
			input: `{"tool":"Edit","input":{"file_path":"a.go","path":"b.go"}}`,
			want:  Invocation{Kind: KindEdit, Path: "a.go"},
		},
		{
			name:  "bash command",
			input: `{"tool":"Bash","input":{"command":"git push"}}`,
			want:  Invocation{Kind: KindBash, Command: "git push"},
		},
		{
			name:  "read",
			input: `{"tool":"Read","input":{"file_path":"main.go"}}`,
			want:  Invocation{Kind: KindRead, Path: "main.go"},
		},
		{
			name:  "no input object",
			input: `{"tool":"Glob"}`,
			want:  Invocation{Kind: KindGlob},
		},
		{
			name:    "missing tool field",
			input:   `{"input":{}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `nope`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%s) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%s) failed: %v", tt.input, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseUnknownToolPreserved(t *testing.T) {
	got, err := Parse([]byte(`{"tool":"Teleport","input":{"destination":"prod"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.Kind != KindUnknown || got.Name != "Teleport" {
		t.Errorf("unknown tool not preserved: %+v", got)
	}
	if len(got.Raw) == 0 {
		t.Error("raw input dropped for unknown tool")
	}
	if intents := Map(got); intents != nil {
		t.Errorf("unknown tool mapped to %v, want none", intents)
	}
}

func TestMapFileTools(t *testing.T) {
	tests := []struct {
		name string
		inv  Invocation
		want []Intent
	}{
		{
			name: "write impl",
			inv:  Invocation{Kind: KindWrite, Path: "src/foo.ts"},
			want: []Intent{IntentWrite, IntentWriteImpl},
		},
		{
			name: "write test",
			inv:  Invocation{Kind: KindWrite, Path: "src/foo.test.ts"},
			want: []Intent{IntentWrite, IntentWriteTest},
		},
		{
			name: "edit docs",
			inv:  Invocation{Kind: KindEdit, Path: "docs/guide.md"},
			want: []Intent{IntentEdit, IntentEditDocs},
		},
		{
			name: "multi edit config",
			inv:  Invocation{Kind: KindMultiEdit, Path: "tsconfig.json"},
			want: []Intent{IntentEdit, IntentEditConfig},
		},
		{
			name: "notebook edit",
			inv:  Invocation{Kind: KindNotebookEdit, Path: "analysis.ipynb"},
			want: []Intent{IntentEdit, IntentEditImpl},
		},
		{
			name: "write without path",
			inv:  Invocation{Kind: KindWrite},
			want: []Intent{IntentWrite},
		},
		{
			name: "read maps to nothing",
			inv:  Invocation{Kind: KindRead, Path: "main.go"},
			want: nil,
		},
		{
			name: "grep maps to nothing",
			inv:  Invocation{Kind: KindGrep},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Map(tt.inv)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Map mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapBash(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []Intent
	}{
		{
			name:    "commit and push chain",
			command: "git add . && git commit -m x && git push",
			want:    []Intent{IntentCommit, IntentPush, IntentRun},
		},
		{
			name:    "remote branch delete is also a push",
			command: "git push origin --delete feature",
			want:    []Intent{IntentDelete, IntentPush, IntentRun},
		},
		{
			name:    "force branch delete",
			command: "git branch -D feature",
			want:    []Intent{IntentDelete, IntentRun},
		},
		{
			name:    "recursive rm",
			command: "rm -rf build/",
			want:    []Intent{IntentDelete, IntentRun},
		},
		{
			name:    "plain rm is not a delete intent",
			command: "rm notes.txt",
			want:    []Intent{IntentRun},
		},
		{
			name:    "npm publish",
			command: "npm publish --access public",
			want:    []Intent{IntentDeploy, IntentRun},
		},
		{
			name:    "deploy verb",
			command: "./scripts/deploy production",
			want:    []Intent{IntentDeploy, IntentRun},
		},
		{
			name:    "redirect writes",
			command: "echo hello > out.txt",
			want:    []Intent{IntentRun, IntentWrite},
		},
		{
			name:    "append writes",
			command: "cat a >> b",
			want:    []Intent{IntentRun, IntentWrite},
		},
		{
			name:    "tee writes",
			command: "make 2>&1 | tee build.log",
			want:    []Intent{IntentRun, IntentWrite},
		},
		{
			name:    "mkdir writes",
			command: "mkdir -p dist",
			want:    []Intent{IntentRun, IntentWrite},
		},
		{
			name:    "plain command",
			command: "ls -la",
			want:    []Intent{IntentRun},
		},
		{
			name:    "empty command",
			command: "",
			want:    []Intent{IntentRun},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Map(Invocation{Kind: KindBash, Command: tt.command})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Map(Bash %q) mismatch (-want +got):\n%s", tt.command, diff)
			}
		})
	}
}

func TestMapIsDeterministic(t *testing.T) {
	inv := Invocation{Kind: KindBash, Command: "touch a && git commit && git push && echo x > y"}
	first := Map(inv)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Map(inv)); diff != "" {
			t.Fatalf("Map not deterministic on run %d:\n%s", i, diff)
		}
	}
}

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		path string
		want PathClass
	}{
		{"src/foo.test.ts", ClassTest},
		{"src/foo.spec.js", ClassTest},
		{"store_test.go", ClassTest},
		{"test_routes.py", ClassTest},
		{"tests/fixtures.json", ClassTest}, // test dir beats config extension
		{"src/__tests__/app.tsx", ClassTest},
		{"README", ClassDocs},
		{"README.md", ClassDocs},
		{"CHANGELOG.md", ClassDocs},
		{"LICENSE", ClassDocs},
		{"docs/api.html", ClassDocs},
		{"notes.txt", ClassDocs},
		{"guide.mdx", ClassDocs},
		{"package.json", ClassConfig},
		{"config/settings.yaml", ClassConfig},
		{"Cargo.toml", ClassConfig},
		{".env.local", ClassConfig},
		{".eslintrc", ClassConfig},
		{"vite.config.ts", ClassConfig},
		{"tsconfig.build.json", ClassConfig},
		{"Dockerfile", ClassConfig},
		{"Makefile", ClassConfig},
		{"yarn.lock", ClassConfig},
		{"src/router.ts", ClassImpl},
		{"main.go", ClassImpl},
		{"lib/parser.rb", ClassImpl},
		{"app/contest/view.js", ClassImpl}, // substring "test" inside a segment is not a test dir
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ClassifyPath(tt.path); got != tt.want {
				t.Errorf("ClassifyPath(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestClassifyPathSeparatorAndCase(t *testing.T) {
	pairs := [][2]string{
		{"src/foo.test.ts", `SRC\FOO.TEST.TS`},
		{"docs/guide.md", `Docs\Guide.MD`},
		{"config/app.yaml", `CONFIG\APP.YAML`},
		{"src/main.go", `Src\Main.Go`},
	}
	for _, p := range pairs {
		if a, b := ClassifyPath(p[0]), ClassifyPath(p[1]); a != b {
			t.Errorf("ClassifyPath(%q)=%s but ClassifyPath(%q)=%s", p[0], a, p[1], b)
		}
	}
}

func TestClassifyPathProperties(t *testing.T) {
	dirPool := []string{"src", "tests", "docs", "pkg", "internal", "__tests__", "config"}
	filePool := []string{
		"main.go", "foo.test.ts", "guide.md", "settings.yaml",
		"README", "app.spec.js", "Makefile", "handler.py", "test_api.py",
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("case and separator changes never change the class", prop.ForAll(
		func(a, b, c uint8, upper, backslash bool) bool {
			dirs := []string{dirPool[int(a)%len(dirPool)], dirPool[int(b)%len(dirPool)]}
			p := strings.Join(append(dirs, filePool[int(c)%len(filePool)]), "/")
			mangled := p
			if upper {
				mangled = strings.ToUpper(mangled)
			}
			if backslash {
				mangled = strings.ReplaceAll(mangled, "/", `\`)
			}
			return ClassifyPath(p) == ClassifyPath(mangled)
		},
		gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.Bool(), gen.Bool(),
	))

	properties.Property("every path lands in exactly one known class", prop.ForAll(
		func(a, c uint8) bool {
			p := dirPool[int(a)%len(dirPool)] + "/" + filePool[int(c)%len(filePool)]
			switch ClassifyPath(p) {
			case ClassTest, ClassDocs, ClassConfig, ClassImpl:
				return true
			}
			return false
		},
		gen.UInt8(), gen.UInt8(),
	))

	properties.TestingRun(t)
}
