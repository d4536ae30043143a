package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Report summarizes an archive read back from disk.
type Report struct {
	Path       string         `yaml:"path"`
	Identifier string         `yaml:"identifier"`
	Title      string         `yaml:"title"`
	Language   string         `yaml:"language"`
	Entries    []string       `yaml:"entries"`
	Manifest   []ManifestItem `yaml:"manifest"`
	Spine      []string       `yaml:"spine"`
	NavTargets []string       `yaml:"nav_targets"`
}

type containerDoc struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageDoc struct {
	Metadata struct {
		Identifiers []string `xml:"http://purl.org/dc/elements/1.1/ identifier"`
		Titles      []string `xml:"http://purl.org/dc/elements/1.1/ title"`
		Languages   []string `xml:"http://purl.org/dc/elements/1.1/ language"`
	} `xml:"metadata"`
	Manifest []opfItem `xml:"manifest>item"`
	Spine    struct {
		Toc   string       `xml:"toc,attr"`
		Items []opfItemRef `xml:"itemref"`
	} `xml:"spine"`
}

type ncxReadPoint struct {
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxReadPoint `xml:"navPoint"`
}

type ncxReadDoc struct {
	Points []ncxReadPoint `xml:"navMap>navPoint"`
}

// Verify re-opens the archive at archivePath and applies the same consistency
// rules the writer checks before writing. Structural problems come back as
// an *InvariantError together with the partial report.
func Verify(archivePath string) (*Report, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	report := &Report{Path: archivePath}
	for _, f := range zr.File {
		files[f.Name] = f
		report.Entries = append(report.Entries, f.Name)
	}

	var problems []string
	if len(zr.File) > 0 && zr.File[0].Name == "mimetype" {
		first := zr.File[0]
		if first.Method != zip.Store {
			problems = append(problems, "mimetype entry is compressed")
		}
		body, err := readEntry(first)
		if err != nil {
			return report, err
		}
		if string(body) != mimetype {
			problems = append(problems, fmt.Sprintf("mimetype is %q", body))
		}
	}

	container, err := readXML[containerDoc](files, containerPath)
	if err != nil {
		return report, err
	}
	if len(container.Rootfiles) == 0 {
		return report, &InvariantError{Problems: []string{"container lists no rootfile"}}
	}
	opfPath := container.Rootfiles[0].FullPath

	pkg, err := readXML[packageDoc](files, opfPath)
	if err != nil {
		return report, err
	}
	if len(pkg.Metadata.Identifiers) > 0 {
		report.Identifier = strings.TrimSpace(pkg.Metadata.Identifiers[0])
	} else {
		problems = append(problems, "package has no dc:identifier")
	}
	if len(pkg.Metadata.Titles) > 0 {
		report.Title = strings.TrimSpace(pkg.Metadata.Titles[0])
	} else {
		problems = append(problems, "package has no dc:title")
	}
	if len(pkg.Metadata.Languages) > 0 {
		report.Language = strings.TrimSpace(pkg.Metadata.Languages[0])
	}
	for _, it := range pkg.Manifest {
		report.Manifest = append(report.Manifest, ManifestItem(it))
	}
	for _, ref := range pkg.Spine.Items {
		report.Spine = append(report.Spine, ref.IDRef)
	}

	root := path.Dir(opfPath) + "/"
	if root == "./" {
		root = ""
	}
	s := structure{
		Root:        root,
		PackagePath: opfPath,
		Entries:     report.Entries,
		Manifest:    report.Manifest,
		Spine:       report.Spine,
	}

	var navFound bool
	for _, it := range report.Manifest {
		switch {
		case hasProperty(it.Properties, "nav"):
			navFound = true
			targets, err := navTargets(files, root, it.Href)
			if err != nil {
				return report, err
			}
			s.NavTargets = targets
		case it.MediaType == ncxType:
			targets, err := ncxTargets(files, root, it.Href)
			if err != nil {
				return report, err
			}
			s.NCXTargets = targets
		}
	}
	if !navFound {
		problems = append(problems, "manifest has no navigation document")
	}
	report.NavTargets = s.NavTargets

	problems = append(problems, s.problems()...)
	if len(problems) > 0 {
		return report, &InvariantError{Problems: problems}
	}
	return report, nil
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Fields(props) {
		if p == want {
			return true
		}
	}
	return false
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return body, nil
}

func readXML[T any](files map[string]*zip.File, name string) (*T, error) {
	f, ok := files[name]
	if !ok {
		return nil, &InvariantError{Problems: []string{fmt.Sprintf("missing entry %q", name)}}
	}
	body, err := readEntry(f)
	if err != nil {
		return nil, err
	}
	var v T
	if err := xml.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return &v, nil
}

// relativeTo resolves href found in the document docHref against the
// package root, returning a root-relative path.
func relativeTo(docHref, href string) string {
	return path.Clean(path.Join(path.Dir(docHref), href))
}

func navTargets(files map[string]*zip.File, root, href string) ([]string, error) {
	f, ok := files[root+href]
	if !ok {
		// Reported by the manifest check.
		return nil, nil
	}
	body, err := readEntry(f)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", href, err)
	}

	var targets []string
	doc.Find("nav").Each(func(_ int, nav *goquery.Selection) {
		if t, _ := nav.Attr("epub:type"); t != "toc" {
			return
		}
		nav.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			target, _ := a.Attr("href")
			targets = append(targets, relativeTo(href, target))
		})
	})
	return targets, nil
}

func ncxTargets(files map[string]*zip.File, root, href string) ([]string, error) {
	if _, ok := files[root+href]; !ok {
		return nil, nil
	}
	doc, err := readXML[ncxReadDoc](files, root+href)
	if err != nil {
		return nil, err
	}
	var targets []string
	var walk func([]ncxReadPoint)
	walk = func(points []ncxReadPoint) {
		for _, p := range points {
			targets = append(targets, relativeTo(href, p.Content.Src))
			walk(p.Children)
		}
	}
	walk(doc.Points)
	return targets, nil
}
