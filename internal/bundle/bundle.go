// Package bundle turns a build-output directory into a single tar.zst
// archive rooted under a fixed top-level folder, ready for upload.
package bundle

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"edgectl/internal/fault"
)

const (
	// Root is the fixed top-level folder every archive entry lives under.
	Root = "dist"
	// WorkerScript is the edge worker entry point expected at the root of
	// the build output.
	WorkerScript = "worker.js"
	// AssetsDir is the static assets folder expected in the build output.
	AssetsDir = "assets"

	manifestFileName = "manifest.yaml"
)

// BuildConfig configures bundle creation.
type BuildConfig struct {
	SourceDir string
	Output    string
	Signer    *Signer
	Now       func() time.Time
	Stdout    io.Writer
}

// Result describes a written bundle archive.
type Result struct {
	Path     string
	Size     int64
	SHA256   string
	Manifest *Manifest
}

// Build walks the build-output directory and writes every file into a
// tar.zst archive, each entry prefixed with Root. The archive is written to
// a scratch path and renamed into place so a failed build never leaves a
// partial file behind. Rebuilding an unchanged tree yields the same entry
// set.
func Build(ctx context.Context, cfg BuildConfig) (*Result, error) {
	if cfg.SourceDir == "" {
		return nil, fault.New(fault.IO, "build output directory is required")
	}
	if cfg.Output == "" {
		return nil, fault.New(fault.IO, "output path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkLayout(cfg.SourceDir); err != nil {
		return nil, err
	}

	files, err := collectFiles(ctx, cfg.SourceDir)
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	manifest := &Manifest{
		Version:   "1",
		CreatedAt: cfg.Now().UTC().Truncate(time.Second),
		Worker:    WorkerScript,
		Files:     files,
	}

	if cfg.Signer != nil {
		payload, err := manifest.SigningBytes()
		if err != nil {
			return nil, fmt.Errorf("marshal manifest for signing: %w", err)
		}
		sig, err := cfg.Signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
		manifest.Signer = cfg.Signer.Recipient()
		manifest.SigningPublicKey = cfg.Signer.PublicKeyBase64()
		manifest.Signature = sig
	}

	size, digest, err := writeArchive(cfg.Output, cfg.SourceDir, manifest)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d files)\n", cfg.Output, len(files))
	return &Result{
		Path:     cfg.Output,
		Size:     size,
		SHA256:   digest,
		Manifest: manifest,
	}, nil
}

// checkLayout verifies the fixed build-output layout: a worker script at the
// root plus a non-empty assets folder.
func checkLayout(sourceDir string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fault.Wrap(fault.IO, err, "stat build output %q", sourceDir)
	}
	if !info.IsDir() {
		return fault.New(fault.IO, "build output %q is not a directory", sourceDir)
	}

	worker := filepath.Join(sourceDir, WorkerScript)
	if info, err := os.Stat(worker); err != nil || info.IsDir() {
		return fault.New(fault.IO, "build output missing worker script %s", WorkerScript)
	}

	assets := filepath.Join(sourceDir, AssetsDir)
	entries, err := os.ReadDir(assets)
	if err != nil {
		return fault.Wrap(fault.IO, err, "build output missing %s directory", AssetsDir)
	}
	if len(entries) == 0 {
		return fault.New(fault.IO, "build output %s directory is empty", AssetsDir)
	}
	return nil
}

func collectFiles(ctx context.Context, root string) ([]ManifestFile, error) {
	var files []ManifestFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %q: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		size, digest, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, ManifestFile{Path: rel, Size: size, SHA256: digest})
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.IO, err, "collect build output")
	}
	return files, nil
}

func hashFile(path string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return 0, "", fmt.Errorf("hash %q: %w", path, err)
	}
	return size, hex.EncodeToString(hash.Sum(nil)), nil
}

// writeArchive streams the manifest and every source file into a fresh
// tar.zst archive at output, returning the archive's size and sha256.
func writeArchive(output, sourceDir string, manifest *Manifest) (int64, string, error) {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, "", fault.Wrap(fault.IO, err, "create output dir")
		}
	}

	scratch := output + ".partial"
	file, err := os.Create(scratch)
	if err != nil {
		return 0, "", fault.Wrap(fault.IO, err, "create archive")
	}

	hash := sha256.New()
	if err := writeEntries(io.MultiWriter(file, hash), sourceDir, manifest); err != nil {
		file.Close()
		os.Remove(scratch)
		return 0, "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(scratch)
		return 0, "", fault.Wrap(fault.IO, err, "close archive")
	}
	if err := os.Rename(scratch, output); err != nil {
		os.Remove(scratch)
		return 0, "", fault.Wrap(fault.IO, err, "replace archive")
	}

	info, err := os.Stat(output)
	if err != nil {
		return 0, "", fault.Wrap(fault.IO, err, "stat archive")
	}
	return info.Size(), hex.EncodeToString(hash.Sum(nil)), nil
}

func writeEntries(w io.Writer, sourceDir string, manifest *Manifest) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}

	tw := tar.NewWriter(encoder)

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	header := &tar.Header{
		Name:     Root + "/" + manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifestBytes)),
		ModTime:  manifest.CreatedAt,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifestBytes); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range manifest.Files {
		fullPath := filepath.Join(sourceDir, filepath.FromSlash(entry.Path))
		info, err := os.Stat(fullPath)
		if err != nil {
			return fault.Wrap(fault.IO, err, "stat %q", entry.Path)
		}
		file, err := os.Open(fullPath)
		if err != nil {
			return fault.Wrap(fault.IO, err, "open %q", entry.Path)
		}

		header := &tar.Header{
			Name:     Root + "/" + entry.Path,
			Mode:     int64(info.Mode().Perm()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			file.Close()
			return fmt.Errorf("write header for %q: %w", entry.Path, err)
		}
		if _, err := io.Copy(tw, file); err != nil {
			file.Close()
			return fmt.Errorf("copy %q: %w", entry.Path, err)
		}
		file.Close()
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}
