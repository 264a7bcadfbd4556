// Command redirects patches the kernel image so that calls to selected
// runtime functions land in kernel replacements. Replacements are marked with
// a "//go:redirect-from <symbol>" line in the doc comment of a function.
//
// Usage (from the module root):
//
//	redirects count                  print the number of redirects
//	redirects list                   print each redirect as "src -> dst"
//	redirects populate-table <image> write the redirect table into <image>
package main

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	annotation   = "//go:redirect-from"
	tableSection = ".goredirectstbl"
)

// scanRoots are the module-relative directories searched for annotations.
var scanRoots = []string{"kernel", "device"}

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

// tableEntry is the on-disk layout of a redirect table row.
type tableEntry struct {
	Src uint64
	Dst uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared by the go.mod file in dir.
func modulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	return "", errors.New("go.mod does not declare a module path")
}

// collectGoFiles returns the non-test Go files below root in lexical order.
func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			goFiles = append(goFiles, path)
		}
		return nil
	})

	return goFiles, err
}

// findRedirects parses goFiles and returns one redirect per annotated
// function. Destination symbols are qualified with the package import path
// derived from modPath and the file location.
func findRedirects(modPath string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		f, err := parser.ParseFile(token.NewFileSet(), goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}

		pkgPath := modPath + "/" + filepath.ToSlash(filepath.Dir(goFile))
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Doc == nil || fn.Recv != nil {
				continue
			}

			for _, comment := range fn.Doc.List {
				if !strings.HasPrefix(comment.Text, annotation) {
					continue
				}

				dst := pkgPath + "." + fn.Name.Name
				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != annotation {
					return nil, fmt.Errorf("%s: malformed %s syntax for %q", goFile, annotation[2:], dst)
				}

				redirects = append(redirects, &redirect{src: fields[1], dst: dst})
			}
		}
	}

	sort.Slice(redirects, func(i, j int) bool { return redirects[i].src < redirects[j].src })
	return redirects, nil
}

// resolveSymbols fills in the virtual addresses of both ends of each
// redirect from the ELF symbol table.
func resolveSymbols(f *elf.File, redirects []*redirect) error {
	symbols, err := f.Symbols()
	if err != nil {
		return err
	}

	addrs := make(map[string]uint64, len(symbols))
	for _, symbol := range symbols {
		addrs[symbol.Name] = symbol.Value
	}

	for _, r := range redirects {
		r.srcVMA, r.dstVMA = addrs[r.src], addrs[r.dst]
		switch {
		case r.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.src)
		case r.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.dst)
		}
	}

	return nil
}

// populateTable writes the resolved redirects into the table section of
// imgFile.
func populateTable(imgFile string, redirects []*redirect) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}

	section := img.Section(tableSection)
	if section == nil {
		img.Close()
		return fmt.Errorf("%s: missing %s section", imgFile, tableSection)
	}

	err = resolveSymbols(img, redirects)
	img.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", imgFile, err)
	}

	entries := make([]tableEntry, len(redirects))
	for i, r := range redirects {
		entries[i] = tableEntry{Src: r.srcVMA, Dst: r.dstVMA}
	}

	if need := uint64(binary.Size(entries)); need > section.Size {
		return fmt.Errorf("%s: %s holds %d bytes; %d redirects need %d", imgFile, tableSection, section.Size, len(entries), need)
	}

	out, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err = out.Seek(int64(section.Offset), 0); err == nil {
		err = binary.Write(out, binary.LittleEndian, entries)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	return err
}

func main() {
	flag.Parse()

	modPath, err := modulePath(".")
	if err != nil {
		exit(fmt.Errorf("this tool must be run from the module root folder: %w", err))
	}

	if flag.NArg() == 0 {
		exit(errors.New("missing command"))
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "count", "list":
	case "populate-table":
		if flag.NArg() != 2 {
			exit(errors.New("populate-table requires the path to the kernel image as an argument"))
		}
	default:
		exit(fmt.Errorf("unknown command %q", cmd))
	}

	var goFiles []string
	for _, root := range scanRoots {
		files, err := collectGoFiles(root)
		if err != nil && !os.IsNotExist(err) {
			exit(err)
		}
		goFiles = append(goFiles, files...)
	}

	redirects, err := findRedirects(modPath, goFiles)
	if err != nil {
		exit(err)
	}

	switch cmd {
	case "count":
		fmt.Printf("%d", len(redirects))
	case "list":
		for _, r := range redirects {
			fmt.Printf("%s -> %s\n", r.src, r.dst)
		}
	case "populate-table":
		if err = populateTable(flag.Arg(1), redirects); err != nil {
			exit(err)
		}
	}
}
