package proto

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	pb "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return mgr
}

func quoteDescriptorSet() *descriptorpb.FileDescriptorSet {
	return &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{{
			Name:    pb.String("ticker.proto"),
			Package: pb.String("ticker.v1"),
			Syntax:  pb.String("proto3"),
			MessageType: []*descriptorpb.DescriptorProto{
				{Name: pb.String("QuoteRequest")},
				{Name: pb.String("QuoteReply")},
			},
			Service: []*descriptorpb.ServiceDescriptorProto{{
				Name: pb.String("TickerService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       pb.String("Quote"),
						InputType:  pb.String(".ticker.v1.QuoteRequest"),
						OutputType: pb.String(".ticker.v1.QuoteReply"),
					},
					{
						Name:       pb.String("History"),
						InputType:  pb.String(".ticker.v1.QuoteRequest"),
						OutputType: pb.String(".ticker.v1.QuoteReply"),
					},
				},
			}},
		}},
	}
}

func TestSaveSource(t *testing.T) {
	mgr := testManager(t)

	path, err := mgr.SaveSource("ticker", "v1", "ticker.proto", []byte("syntax = \"proto3\";"))
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(mgr.Root(), "ticker", "v1", "ticker.proto")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "syntax = \"proto3\";" {
		t.Errorf("content = %q", content)
	}
}

func TestSaveSourceRejectsNonProto(t *testing.T) {
	mgr := testManager(t)
	_, err := mgr.SaveSource("ticker", "v1", "ticker.txt", []byte("x"))
	if !errors.Is(err, apierrors.ErrWrongFileType) {
		t.Errorf("err = %v, want %v", err, apierrors.ErrWrongFileType)
	}
}

func TestSaveSourceStripsDirectoryComponents(t *testing.T) {
	mgr := testManager(t)

	path, err := mgr.SaveSource("ticker", "v1", "../../../evil.proto", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(path, mgr.Root()+string(filepath.Separator)) {
		t.Errorf("path %q escaped the source root", path)
	}
	if filepath.Base(path) != "evil.proto" {
		t.Errorf("base = %q", filepath.Base(path))
	}
}

func TestRegisterAndResolveMethods(t *testing.T) {
	mgr := testManager(t)
	if err := mgr.RegisterDescriptorSet("ticker", "v1", quoteDescriptorSet()); err != nil {
		t.Fatal(err)
	}

	md, err := mgr.Method("ticker", "v1", "ticker.v1.TickerService/Quote")
	if err != nil {
		t.Fatal(err)
	}
	if got := string(md.Input().FullName()); got != "ticker.v1.QuoteRequest" {
		t.Errorf("input = %q", got)
	}

	if _, err := mgr.Method("ticker", "v1", "ticker.v1.TickerService/Missing"); err == nil {
		t.Error("unknown method must not resolve")
	}
	if _, err := mgr.Method("other", "v1", "ticker.v1.TickerService/Quote"); err == nil {
		t.Error("unregistered api must not resolve")
	}

	want := []string{"ticker.v1.TickerService/History", "ticker.v1.TickerService/Quote"}
	got := mgr.Methods("ticker", "v1")
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Methods = %v, want %v", got, want)
	}
}

func TestRegisterReplacesPreviousSet(t *testing.T) {
	mgr := testManager(t)
	if err := mgr.RegisterDescriptorSet("ticker", "v1", quoteDescriptorSet()); err != nil {
		t.Fatal(err)
	}

	replacement := quoteDescriptorSet()
	replacement.File[0].Service[0].Method = replacement.File[0].Service[0].Method[:1]
	if err := mgr.RegisterDescriptorSet("ticker", "v1", replacement); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Method("ticker", "v1", "ticker.v1.TickerService/History"); err == nil {
		t.Error("replaced set must drop the old method")
	}
}

func TestRemove(t *testing.T) {
	mgr := testManager(t)
	if err := mgr.RegisterDescriptorSet("ticker", "v1", quoteDescriptorSet()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SaveSource("ticker", "v1", "ticker.proto", []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Remove("ticker", "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Method("ticker", "v1", "ticker.v1.TickerService/Quote"); err == nil {
		t.Error("descriptors must be gone after Remove")
	}
	if _, err := os.Stat(filepath.Join(mgr.Root(), "ticker", "v1")); !os.IsNotExist(err) {
		t.Error("sources must be gone after Remove")
	}
}

func TestCompileWithoutSources(t *testing.T) {
	mgr := testManager(t)
	err := mgr.Compile(context.Background(), "ticker", "v1")
	if !errors.Is(err, apierrors.ErrResourceNotFound) {
		t.Errorf("err = %v, want %v", err, apierrors.ErrResourceNotFound)
	}
}

func TestCompile(t *testing.T) {
	if _, err := exec.LookPath("protoc"); err != nil {
		t.Skip("protoc not installed")
	}

	mgr := testManager(t)
	source := `syntax = "proto3";
package ticker.v1;

message QuoteRequest { string symbol = 1; }
message QuoteReply { double price = 1; }

service TickerService {
  rpc Quote(QuoteRequest) returns (QuoteReply);
}
`
	if _, err := mgr.SaveSource("ticker", "v1", "ticker.proto", []byte(source)); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Compile(context.Background(), "ticker", "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Method("ticker", "v1", "ticker.v1.TickerService/Quote"); err != nil {
		t.Errorf("compiled method missing: %v", err)
	}
}

func TestCompileBadSource(t *testing.T) {
	if _, err := exec.LookPath("protoc"); err != nil {
		t.Skip("protoc not installed")
	}

	mgr := testManager(t)
	if _, err := mgr.SaveSource("ticker", "v1", "broken.proto", []byte("not a proto file")); err != nil {
		t.Fatal(err)
	}
	err := mgr.Compile(context.Background(), "ticker", "v1")
	if !errors.Is(err, apierrors.ErrValidationFailed) {
		t.Errorf("err = %v, want %v", err, apierrors.ErrValidationFailed)
	}
}
