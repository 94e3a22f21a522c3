// SPDX-License-Identifier: Apache-2.0

package magetab

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/mapping"
	"github.com/gemaraproj/hca2mtab/internal/resolve"
)

const (
	personLastName    = "Person Last Name"
	personFirstName   = "Person First Name"
	personMidInitials = "Person Mid Initials"
	personEmail       = "Person Email"
	personAffiliation = "Person Affiliation"
	personAddress     = "Person Address"

	protocolName        = "Protocol Name"
	protocolType        = "Protocol Type"
	protocolDescription = "Protocol Description"

	publicationTitle   = "Publication Title"
	publicationAuthors = "Publication Author List"
	publicationPMID    = "PubMed ID"
	publicationDOI     = "Publication DOI"
)

var (
	releaseDate        = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
	candidateAccession = regexp.MustCompile(`^E-CAND-\d+`)
)

// IsCandidateAccession reports whether accession was minted locally rather
// than assigned by the archive.
func IsCandidateAccession(accession string) bool {
	return candidateAccession.MatchString(accession)
}

type idfInput struct {
	accession   string
	projectUUID string
	// view is the first bundle's view; it supplies the project document.
	view      bundle.View
	protocols *TechnologyProtocols
	factors   []Factor
	sdrfFile  string
}

// buildIDF applies the IDF rules. It returns the IDF lines and the resolved
// investigation title.
func (e *Engine) buildIDF(in idfInput, logger *zap.Logger) ([][]string, string, error) {
	var (
		lines [][]string
		title string
	)
	for _, rule := range e.rules.IDF {
		c := resolve.Context{Accession: in.accession, Label: rule.Label}
		switch rule.Kind {
		case mapping.KindLiteral:
			lines = append(lines, []string{rule.Label, rule.Value})

		case mapping.KindValues:
			lines = append(lines, append([]string{rule.Label}, rule.Values...))

		case mapping.KindPath, mapping.KindTitle:
			v, _ := e.resolver.String(in.view, rule.Path, true, c)
			if rule.Kind == mapping.KindTitle && title == "" {
				title = v
			}
			lines = append(lines, []string{rule.Label, v})

		case mapping.KindDate:
			v, ok := e.resolver.String(in.view, rule.Path, true, c)
			if ok {
				if m := releaseDate.FindStringSubmatch(v); m != nil {
					v = m[1]
				} else {
					logger.Error("failed to parse date", zap.String("label", rule.Label), zap.String("value", v))
					v = ""
				}
			}
			lines = append(lines, []string{rule.Label, v})

		case mapping.KindAccession:
			if !IsCandidateAccession(in.accession) {
				lines = append(lines, []string{rule.Label, in.accession})
			}

		case mapping.KindSDRFFile:
			lines = append(lines, []string{rule.Label, in.sdrfFile})

		case mapping.KindToday:
			lines = append(lines, []string{rule.Label, e.now().Format("2006-01-02")})

		case mapping.KindSecondaryAccessions:
			if values := e.secondaryAccessions(in); len(values) > 0 {
				lines = append(lines, append([]string{rule.Label}, values...))
			}

		case mapping.KindFactorNames, mapping.KindFactorTypes:
			line := []string{rule.Label}
			for _, f := range in.factors {
				line = append(line, f.Name)
			}
			lines = append(lines, line)

		case mapping.KindContacts:
			entries, err := e.contactLines(rule, in, c)
			if err != nil {
				return nil, "", err
			}
			lines = append(lines, entries...)

		case mapping.KindProtocols:
			entries, err := e.protocolLines(rule, in)
			if err != nil {
				return nil, "", err
			}
			lines = append(lines, entries...)

		case mapping.KindPublications:
			entries, err := e.publicationLines(rule, in, c)
			if err != nil {
				return nil, "", err
			}
			lines = append(lines, entries...)
		}
	}
	return lines, title, nil
}

// requireLabel returns a StructuralConfiguration error unless labels contains want.
func requireLabel(rule mapping.Rule, want, accession string) error {
	for _, l := range rule.Labels {
		if l == want {
			return nil
		}
	}
	return newError(StructuralConfiguration, accession, "", "%s block has no %q label", rule.Kind, want)
}

// block turns per-label value columns into IDF lines, in rule label order.
func block(labels []string, values map[string][]string) [][]string {
	lines := make([][]string, 0, len(labels))
	for _, l := range labels {
		lines = append(lines, append([]string{l}, values[l]...))
	}
	return lines
}

func (e *Engine) contactLines(rule mapping.Rule, in idfInput, c resolve.Context) ([][]string, error) {
	if err := requireLabel(rule, personLastName, in.accession); err != nil {
		return nil, err
	}
	fields := e.cfg.Contact
	values := make(map[string][]string, len(rule.Labels))
	for _, contact := range e.objects(in.view, rule.Path, c) {
		name, _ := e.field(contact, fields.Name, c)
		parts := strings.Split(name, ",")
		mid := ""
		if len(parts) == 3 {
			mid = strings.TrimSpace(parts[1])
		}
		email, _ := e.field(contact, fields.Email, c)
		institution, _ := e.field(contact, fields.Institution, c)
		address, _ := e.field(contact, fields.Address, c)
		for _, l := range rule.Labels {
			var v string
			switch l {
			case personLastName:
				v = strings.TrimSpace(parts[0])
			case personFirstName:
				v = strings.TrimSpace(parts[len(parts)-1])
			case personMidInitials:
				v = mid
			case personEmail:
				v = email
			case personAffiliation:
				v = institution
			case personAddress:
				v = address
			}
			values[l] = append(values[l], v)
		}
	}
	return block(rule.Labels, values), nil
}

func (e *Engine) protocolLines(rule mapping.Rule, in idfInput) ([][]string, error) {
	if err := requireLabel(rule, protocolName, in.accession); err != nil {
		return nil, err
	}
	values := make(map[string][]string, len(rule.Labels))
	for _, ptype := range e.cfg.ProtocolTypes {
		for _, p := range in.protocols.Set(ptype).SortedByName() {
			for _, l := range rule.Labels {
				var v string
				switch l {
				case protocolName:
					v = p.Name
				case protocolType:
					v = p.Type
				case protocolDescription:
					v = p.Description
				}
				values[l] = append(values[l], v)
			}
		}
	}
	return block(rule.Labels, values), nil
}

func (e *Engine) publicationLines(rule mapping.Rule, in idfInput, c resolve.Context) ([][]string, error) {
	if err := requireLabel(rule, publicationTitle, in.accession); err != nil {
		return nil, err
	}
	c.Label = publicationTitle
	if !e.resolver.Resolve(in.view, rule.Path, true, c).Found {
		return nil, nil
	}
	paths := e.cfg.Publication
	values := make(map[string][]string, len(rule.Labels))
	for _, pub := range e.objects(in.view, rule.Path, c) {
		for _, l := range rule.Labels {
			var v string
			switch l {
			case publicationTitle:
				v = e.path(pub, paths.TitlePath, c)
			case publicationAuthors:
				if authors := e.resolver.Resolve(bundle.View(pub), paths.AuthorsPath, true, c); authors.Found {
					v = joinAuthors(authors.Value)
				}
			case publicationPMID:
				v = e.path(pub, paths.PMIDPath, c)
			case publicationDOI:
				v = e.path(pub, paths.DOIPath, c)
			}
			values[l] = append(values[l], v)
		}
	}
	return block(rule.Labels, values), nil
}

// secondaryAccessions lists the project's other accessions, deduplicated, with
// the project uuid last.
func (e *Engine) secondaryAccessions(in idfInput) []string {
	var out []string
	project, _ := in.view[e.cfg.ProjectSchema].(map[string]any)
	for _, label := range e.cfg.SecondaryAccessionLabels {
		switch v := project[label].(type) {
		case nil:
		case []any:
			for _, item := range v {
				out = appendUnique(out, resolve.Format(item))
			}
		default:
			out = appendUnique(out, resolve.Format(v))
		}
	}
	if in.projectUUID != "" {
		out = appendUnique(out, in.projectUUID)
	}
	return out
}

// objects resolves path to a list of JSON objects; anything else is empty.
func (e *Engine) objects(view bundle.View, path []string, c resolve.Context) []map[string]any {
	l := e.resolver.Resolve(view, path, true, c)
	items, ok := l.Value.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func (e *Engine) field(obj map[string]any, key string, c resolve.Context) (string, bool) {
	return e.resolver.String(bundle.View(obj), []string{key}, true, c)
}

func (e *Engine) path(obj map[string]any, path []string, c resolve.Context) string {
	if len(path) == 0 {
		return ""
	}
	v, _ := e.resolver.String(bundle.View(obj), path, true, c)
	return v
}

func joinAuthors(v any) string {
	items, ok := v.([]any)
	if !ok {
		return resolve.Format(v)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = resolve.Format(item)
	}
	return strings.Join(parts, ", ")
}
