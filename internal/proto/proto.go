// Package proto manages uploaded protobuf sources. Each API version
// gets its own source directory; protoc compiles the sources into a
// FileDescriptorSet and the resulting method descriptors feed the gRPC
// dispatcher's dynamic invocation.
package proto

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
)

// Manager stores proto sources and compiled descriptors.
type Manager struct {
	root       string
	protocPath string
	compileSem *semaphore.Weighted

	mu   sync.RWMutex
	apis map[string]*descriptorSet // "name/version" → compiled methods
}

type descriptorSet struct {
	methods map[string]protoreflect.MethodDescriptor
}

// NewManager creates a manager rooted at dir. An empty dir falls back
// to a doorman-proto directory under the system temp dir. Compilation
// is CPU work, so concurrent protoc runs are capped at GOMAXPROCS.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "doorman-proto")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("proto root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("proto root: %w", err)
	}
	return &Manager{
		root:       abs,
		protocPath: "protoc",
		compileSem: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		apis:       make(map[string]*descriptorSet),
	}, nil
}

// Root returns the source tree root.
func (m *Manager) Root() string { return m.root }

// SaveSource validates and writes one uploaded .proto file under the
// API version's source directory, returning the stored path. The file
// name is reduced to its base so an uploaded name cannot steer the
// write location; the final path must still land inside the source
// root or the system temp dir.
func (m *Manager) SaveSource(apiName, apiVersion, filename string, content []byte) (string, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".proto") {
		return "", apierrors.ErrWrongFileType.WithDetails("expected a .proto file")
	}

	dir := filepath.Join(m.root, apiName, apiVersion)
	path := filepath.Join(dir, filepath.Base(filename))
	if err := ValidatePath(path, m.root, os.TempDir()); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Compile runs protoc over the API version's uploaded sources and
// registers the resulting descriptors.
func (m *Manager) Compile(ctx context.Context, apiName, apiVersion string) error {
	if err := m.compileSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.compileSem.Release(1)

	dir := filepath.Join(m.root, apiName, apiVersion)
	if err := ValidatePath(dir, m.root, os.TempDir()); err != nil {
		return err
	}
	sources, err := filepath.Glob(filepath.Join(dir, "*.proto"))
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return apierrors.ErrResourceNotFound.WithDetails(
			"no proto sources uploaded for " + apiName + "/" + apiVersion)
	}

	outDir, err := os.MkdirTemp("", "doorman-descriptor-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(outDir)
	outFile := filepath.Join(outDir, "descriptor.pb")

	args := []string{
		"--descriptor_set_out=" + outFile,
		"--include_imports",
		"--proto_path=" + dir,
	}
	args = append(args, sources...)

	cmd := exec.CommandContext(ctx, m.protocPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return apierrors.ErrValidationFailed.WithDetails(
			"protoc failed: " + strings.TrimSpace(string(out)))
	}

	raw, err := os.ReadFile(outFile)
	if err != nil {
		return err
	}
	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(raw, fds); err != nil {
		return fmt.Errorf("descriptor set: %w", err)
	}
	return m.RegisterDescriptorSet(apiName, apiVersion, fds)
}

// RegisterDescriptorSet indexes a compiled descriptor set under the
// API version, replacing any previous registration.
func (m *Manager) RegisterDescriptorSet(apiName, apiVersion string, fds *descriptorpb.FileDescriptorSet) error {
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return fmt.Errorf("build descriptors: %w", err)
	}

	methods := make(map[string]protoreflect.MethodDescriptor)
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		svcs := fd.Services()
		for i := 0; i < svcs.Len(); i++ {
			sd := svcs.Get(i)
			mds := sd.Methods()
			for j := 0; j < mds.Len(); j++ {
				md := mds.Get(j)
				methods[string(sd.FullName())+"/"+string(md.Name())] = md
			}
		}
		return true
	})

	m.mu.Lock()
	m.apis[apiName+"/"+apiVersion] = &descriptorSet{methods: methods}
	m.mu.Unlock()
	return nil
}

// Method resolves a "package.Service/Method" name for one API version.
func (m *Manager) Method(apiName, apiVersion, fullMethod string) (protoreflect.MethodDescriptor, error) {
	m.mu.RLock()
	ds := m.apis[apiName+"/"+apiVersion]
	m.mu.RUnlock()

	if ds == nil {
		return nil, fmt.Errorf("no descriptors uploaded for api %s/%s", apiName, apiVersion)
	}
	md, ok := ds.methods[fullMethod]
	if !ok {
		return nil, fmt.Errorf("method %q not found", fullMethod)
	}
	return md, nil
}

// Methods lists the registered method names for one API version.
func (m *Manager) Methods(apiName, apiVersion string) []string {
	m.mu.RLock()
	ds := m.apis[apiName+"/"+apiVersion]
	m.mu.RUnlock()

	if ds == nil {
		return nil
	}
	names := make([]string, 0, len(ds.methods))
	for name := range ds.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove drops the compiled descriptors and deletes the uploaded
// sources for one API version.
func (m *Manager) Remove(apiName, apiVersion string) error {
	dir := filepath.Join(m.root, apiName, apiVersion)
	if err := ValidatePath(dir, m.root, os.TempDir()); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.apis, apiName+"/"+apiVersion)
	m.mu.Unlock()

	return os.RemoveAll(dir)
}
