// SPDX-License-Identifier: Apache-2.0

// Package writer serializes MAGE-TAB tables as tab-delimited text.
//
// Fields are never quoted. A tab, carriage return, line feed or backslash
// inside a field is preceded by a backslash.
package writer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gemaraproj/hca2mtab/internal/magetab"
)

var escaper = strings.NewReplacer(`\`, `\\`, "\t", "\\\t", "\n", "\\\n", "\r", "\\\r")

// Escape escapes one field.
func Escape(field string) string {
	return escaper.Replace(field)
}

// WriteRows writes each row as one tab-separated, newline-terminated line.
func WriteRows(w io.Writer, rows [][]string) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		for i, field := range row {
			if i > 0 {
				if err := bw.WriteByte('\t'); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(Escape(field)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SDRF renders the sample table, header first.
func SDRF(t magetab.Table) string {
	var buf bytes.Buffer
	rows := make([][]string, 0, len(t.Rows)+1)
	rows = append(rows, t.Header)
	rows = append(rows, t.Rows...)
	_ = WriteRows(&buf, rows)
	return buf.String()
}

// IDF renders the investigation lines.
func IDF(lines [][]string) string {
	var buf bytes.Buffer
	_ = WriteRows(&buf, lines)
	return buf.String()
}

// WriteTechnology writes the SDRF and IDF files of one technology into dir
// and returns their paths.
func WriteTechnology(dir string, res magetab.TechnologyResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	files := []struct {
		name    string
		content string
	}{
		{res.SDRFFile, SDRF(res.SDRF)},
		{res.IDFFile, IDF(res.IDF)},
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeFile(path, f.content); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// writeFile writes through a temporary file so a reader never sees a partial table.
func writeFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Exists reports whether dir already holds an IDF file of accession, for any
// technology.
func Exists(dir, accession string) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(dir, magetab.IDFFileName(accession, "", false)+"*"))
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// SecondaryAccessionLabel is the IDF line whose last field names the HCA
// project of an experiment.
const SecondaryAccessionLabel = "Comment[SecondaryAccession]"

// idfName matches IDF file names, with or without a technology suffix. A name
// may chain several accessions for projects that map onto more than one
// existing experiment.
var idfName = regexp.MustCompile(`^((?:E-\w{4}-\d+)+)\.idf\.txt(?:\..+)?$`)

// Experiment is an experiment found in an output directory.
type Experiment struct {
	Accession string
	// ProjectUUID is empty when the IDF carries no secondary accession line.
	ProjectUUID string
	IDFFile     string
}

// Scan lists the experiments whose IDF files are in dir, one per accession,
// sorted by file name. label names the line carrying the project uuid; empty
// means SecondaryAccessionLabel. A missing dir holds no experiments.
func Scan(dir, label string) ([]Experiment, error) {
	if label == "" {
		label = SecondaryAccessionLabel
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Experiment
	seen := make(map[string]bool)
	for _, name := range names {
		m := idfName.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		path := filepath.Join(dir, name)
		project, err := projectOf(path, label)
		if err != nil {
			return nil, err
		}
		out = append(out, Experiment{Accession: m[1], ProjectUUID: project, IDFFile: path})
	}
	return out, nil
}

// projectOf returns the last field of the label line of the IDF at path.
func projectOf(path, label string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	prefix := label + "\t"
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, prefix) {
			fields := strings.Split(line, "\t")
			return strings.TrimSpace(fields[len(fields)-1]), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return "", nil
}
