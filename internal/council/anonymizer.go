package council

import "fmt"

// LabelMap is the private bijection between anonymization labels and
// member ids for one session. It is session-scoped and never shared
// across sessions, so review leakage between sessions is impossible.
type LabelMap struct {
	byLabel  map[string]string
	byMember map[string]string
	labels   []string
}

// MemberFor resolves a label back to its member id.
func (m *LabelMap) MemberFor(label string) (string, bool) {
	member, ok := m.byLabel[label]
	return member, ok
}

// LabelFor returns the label assigned to a member.
func (m *LabelMap) LabelFor(member string) (string, bool) {
	label, ok := m.byMember[member]
	return label, ok
}

// Labels returns all labels in assignment order.
func (m *LabelMap) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// Members returns all mapped member ids in assignment order.
func (m *LabelMap) Members() []string {
	out := make([]string, 0, len(m.labels))
	for _, label := range m.labels {
		out = append(out, m.byLabel[label])
	}
	return out
}

// Len returns the number of mapped responses.
func (m *LabelMap) Len() int {
	return len(m.labels)
}

// Anonymizer assigns opaque labels to successful Stage-1 responses.
// Labels are generated in a stable order following input order, so two
// runs over the same response set are reproducible. When Enabled is
// false, labels are the member ids themselves and the map is the
// identity function, which keeps Stage-2 logic uniform either way.
type Anonymizer struct {
	Enabled bool
}

// Anonymize maps the successful responses to labeled answers and returns
// the private label map. Failed responses are excluded; the mapping is a
// bijection over the successful set.
func (a Anonymizer) Anonymize(responses []MemberResponse) ([]AnonymizedResponse, *LabelMap) {
	succeeded := Succeeded(responses)

	anon := make([]AnonymizedResponse, 0, len(succeeded))
	lm := &LabelMap{
		byLabel:  make(map[string]string, len(succeeded)),
		byMember: make(map[string]string, len(succeeded)),
		labels:   make([]string, 0, len(succeeded)),
	}

	for i, r := range succeeded {
		label := r.Member
		if a.Enabled {
			label = responseLabel(i)
		}
		anon = append(anon, AnonymizedResponse{Label: label, Answer: r.Answer})
		lm.byLabel[label] = r.Member
		lm.byMember[r.Member] = label
		lm.labels = append(lm.labels, label)
	}

	return anon, lm
}

// responseLabel generates the i-th label: "Response A" … "Response Z",
// then "Response AA" and so on.
func responseLabel(i int) string {
	return "Response " + alphaIndex(i)
}

// alphaIndex converts 0 → "A", 25 → "Z", 26 → "AA" (bijective base-26).
func alphaIndex(i int) string {
	if i < 0 {
		return ""
	}
	var out []byte
	n := i + 1
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// mustLabel panics when a label is missing from the map. Reviews are only
// built from labels the anonymizer issued, so a miss is a bug.
func mustLabel(m *LabelMap, label string) string {
	member, ok := m.MemberFor(label)
	if !ok {
		panic(fmt.Sprintf("label %q not in session label map", label))
	}
	return member
}
