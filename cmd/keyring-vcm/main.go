// Command keyring-vcm is the operator CLI: master key generation, subkey
// fingerprints, and file encryption/decryption through the chunked codec.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kitsuneislife/keyring-vcm/codec"
	"github.com/kitsuneislife/keyring-vcm/internal/secmem"
	"github.com/kitsuneislife/keyring-vcm/internal/version"
	"github.com/kitsuneislife/keyring-vcm/keyring"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
	"github.com/kitsuneislife/keyring-vcm/transcode"
)

const maxPathLen = 4096

const usage = `Usage: keyring-vcm <command> [flags]

Commands:
  keygen    generate a master key file
  derive    print the subkey fingerprint for an object id
  encrypt   encrypt a file into envelope records
  decrypt   decrypt envelope records back into a file
  version   print version information
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "keygen":
		err = cmdKeygen(args[1:], stdout, stderr)
	case "derive":
		err = cmdDerive(args[1:], stdout, stderr)
	case "encrypt":
		err = cmdCrypt(args[1:], stdout, stderr, true)
	case "decrypt":
		err = cmdCrypt(args[1:], stdout, stderr, false)
	case "version":
		fmt.Fprintf(stdout, "keyring-vcm %s (%s, %s)\n", version.Version, version.Commit, version.Date)
	default:
		fmt.Fprintf(stderr, "keyring-vcm: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err != nil {
		if err == flag.ErrHelp {
			return 2
		}
		fmt.Fprintf(stderr, "keyring-vcm: %v\n", err)
		return 1
	}
	return 0
}

func cmdKeygen(args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "destination key file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("--out is required")
	}
	if err := validatePath(*out); err != nil {
		return err
	}
	master, err := keyring.GenerateMaster()
	if err != nil {
		return err
	}
	defer secmem.Zero(master)
	if err := keyring.SaveMasterFile(*out, master); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (key %s)\n", *out, keyring.Fingerprint(master))
	return nil
}

func cmdDerive(args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", "", "master key file (required)")
	objectID := fs.String("object", "", "object identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	master, err := loadMaster(*keyFile)
	if err != nil {
		return err
	}
	defer secmem.Zero(master)
	subkey, err := keyring.DeriveSubkey(master, *objectID)
	if err != nil {
		return err
	}
	defer secmem.Zero32(&subkey)
	fmt.Fprintf(stdout, "%s\n", keyring.Fingerprint(subkey[:]))
	return nil
}

func cmdCrypt(args []string, stdout io.Writer, stderr io.Writer, encrypt bool) error {
	name := "decrypt"
	if encrypt {
		name = "encrypt"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", "", "master key file (required)")
	objectID := fs.String("object", "", "object identifier (required)")
	in := fs.String("in", "", "input file (default stdin)")
	out := fs.String("out", "", "output file (default stdout)")
	encoding := fs.String("encoding", "", "record encoding: binary, hex, or base64")
	frameSize := fs.Int("frame-size", 0, "frame payload size in bytes (encrypt; bounds record size on decrypt)")
	permissive := fs.Bool("permissive", false, "collect per-frame auth errors instead of aborting (decrypt only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	master, err := loadMaster(*keyFile)
	if err != nil {
		return err
	}
	defer secmem.Zero(master)

	enc, err := transcode.ParseEncoding(*encoding)
	if err != nil {
		return err
	}
	cfg := codec.Config{
		FrameSize:         *frameSize,
		Encoding:          enc,
		PermissiveDecrypt: *permissive,
	}

	src, closeSrc, err := openInput(*in)
	if err != nil {
		return err
	}
	defer closeSrc()
	dst, closeDst, err := openOutput(*out)
	if err != nil {
		return err
	}

	var stats codec.Stats
	if encrypt {
		stats, err = codec.EncryptStream(dst, src, master, *objectID, cfg)
	} else {
		stats, err = codec.DecryptStream(dst, src, master, *objectID, cfg)
	}
	for _, fe := range stats.FrameErrors {
		fmt.Fprintf(stderr, "keyring-vcm: frame %d failed authentication\n", fe.Index)
	}
	if cerr := closeDst(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "%s: %d frames, %d bytes\n", name, stats.Frames, stats.Bytes)
	return nil
}

func loadMaster(keyFile string) ([]byte, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("--key is required")
	}
	if err := validatePath(keyFile); err != nil {
		return nil, err
	}
	return keyring.LoadMasterFile(keyFile)
}

// validatePath rejects traversal components and oversized paths before any file is
// touched.
func validatePath(p string) error {
	if len(p) > maxPathLen {
		return kverrors.Validation("path", "%d bytes exceeds maximum of %d", len(p), maxPathLen)
	}
	for _, part := range strings.Split(p, string(os.PathSeparator)) {
		if part == ".." {
			return kverrors.Security(kverrors.SecurityPathTraversal, "path %q contains a parent-directory component", p)
		}
	}
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" {
		return os.Stdin, func() {}, nil
	}
	if err := validatePath(path); err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, kverrors.IO("open", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	if err := validatePath(path); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, kverrors.IO("create", err)
	}
	return f, f.Close, nil
}
