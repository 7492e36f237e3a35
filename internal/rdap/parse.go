package rdap

import (
	"encoding/json"
	"strings"
)

type rdapDomain struct {
	LdhName     string       `json:"ldhName"`
	Status      []string     `json:"status"`
	Events      []rdapEvent  `json:"events"`
	Nameservers []rdapNS     `json:"nameservers"`
	Entities    []rdapEntity `json:"entities"`
}

type rdapEvent struct {
	EventAction string `json:"eventAction"`
	EventDate   string `json:"eventDate"`
}

type rdapNS struct {
	LdhName string `json:"ldhName"`
}

type rdapEntity struct {
	Roles      []string        `json:"roles"`
	VCardArray json.RawMessage `json:"vcardArray"`
	Entities   []rdapEntity    `json:"entities"`
}

// ParseRecord builds a Record from an RDAP domain response body.
func ParseRecord(fqdn string, body []byte) (*Record, error) {
	var d rdapDomain
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}

	rec := &Record{
		Domain: fqdn,
		Raw:    string(body),
	}

	if len(d.Status) > 0 {
		rec.Status = d.Status
	}
	for _, ns := range d.Nameservers {
		if ns.LdhName != "" {
			rec.Nameservers = append(rec.Nameservers, ns.LdhName)
		}
	}

	for _, ev := range d.Events {
		action := strings.ToLower(ev.EventAction)
		switch {
		case strings.Contains(action, "registration") && rec.CreationDate == "":
			rec.CreationDate = ev.EventDate
		case strings.Contains(action, "expiration") && rec.ExpirationDate == "":
			rec.ExpirationDate = ev.EventDate
		case strings.Contains(action, "last changed") && rec.UpdatedDate == "":
			rec.UpdatedDate = ev.EventDate
		}
	}

	rec.Registrar = registrarName(d.Entities)
	rec.Registrant = contactForRole(d.Entities, "registrant")
	rec.AdminContact = contactForRole(d.Entities, "administrative")
	rec.TechContact = contactForRole(d.Entities, "technical")
	rec.AbuseContact = contactForRole(d.Entities, "abuse")

	return rec, nil
}

// registrarName finds the first registrar-role entity and pulls its fn/org
// vCard value.
func registrarName(entities []rdapEntity) string {
	for _, e := range entities {
		if !hasRole(e.Roles, "registrar") {
			continue
		}
		for _, prop := range parseJCard(e.VCardArray) {
			if prop.name != "fn" && prop.name != "org" {
				continue
			}
			if s, ok := prop.firstString(); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// contactForRole searches top-level entities for the role, then one level
// into nested entities. Abuse contacts commonly live inside the registrar
// entity rather than at the top level.
func contactForRole(entities []rdapEntity, role string) ContactField {
	for _, e := range entities {
		if hasRole(e.Roles, role) {
			return contactFromEntity(e)
		}
	}
	for _, e := range entities {
		for _, nested := range e.Entities {
			if hasRole(nested.Roles, role) {
				return contactFromEntity(nested)
			}
		}
	}
	return ContactField{}
}

func contactFromEntity(e rdapEntity) ContactField {
	c := &Contact{}
	for _, prop := range parseJCard(e.VCardArray) {
		switch prop.name {
		case "fn":
			if s, ok := prop.firstString(); ok {
				c.Name = nilIfEmpty(s)
			}
		case "org":
			if s, ok := prop.firstString(); ok {
				c.Organization = nilIfEmpty(s)
			}
		case "email":
			if s, ok := prop.firstString(); ok && c.Email == nil {
				c.Email = nilIfEmpty(s)
			}
		case "tel":
			s, ok := prop.firstString()
			if !ok {
				continue
			}
			if prop.hasTypeParam("fax") {
				if c.Fax == nil {
					c.Fax = nilIfEmpty(s)
				}
			} else if c.Phone == nil {
				c.Phone = nilIfEmpty(s)
			}
		case "adr":
			addr, country := flattenAddress(prop)
			if c.Address == nil {
				c.Address = nilIfEmpty(addr)
			}
			if c.Country == nil {
				c.Country = nilIfEmpty(country)
			}
		}
	}

	// A contact with no name, organization, or address was scrubbed by the
	// provider; report the redaction instead of an empty shell.
	if c.Name == nil && c.Organization == nil && c.Address == nil {
		return ContactField{Sentinel: RedactedSentinel}
	}
	return ContactField{Contact: c}
}

// jCardProp is one property quad [name, params, valueType, value...]. jCard
// values are heterogeneously typed, so the raw value cells stay as any.
type jCardProp struct {
	name      string
	params    map[string]any
	valueType string
	values    []any
}

// parseJCard decodes a vcardArray: ["vcard", [[name, params, type, value...], ...]].
// Anything malformed yields an empty property list.
func parseJCard(raw json.RawMessage) []jCardProp {
	if len(raw) == 0 {
		return nil
	}
	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || len(outer) < 2 {
		return nil
	}
	var quads [][]any
	if err := json.Unmarshal(outer[1], &quads); err != nil {
		return nil
	}

	var props []jCardProp
	for _, quad := range quads {
		if len(quad) < 4 {
			continue
		}
		name, ok := quad[0].(string)
		if !ok {
			continue
		}
		p := jCardProp{
			name:   strings.ToLower(name),
			values: quad[3:],
		}
		if params, ok := quad[1].(map[string]any); ok {
			p.params = params
		}
		if vt, ok := quad[2].(string); ok {
			p.valueType = vt
		}
		props = append(props, p)
	}
	return props
}

// firstString returns the first value cell that is a string.
func (p jCardProp) firstString() (string, bool) {
	for _, v := range p.values {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// hasTypeParam checks the "type" parameter, which jCard allows as either a
// bare string or an array of strings.
func (p jCardProp) hasTypeParam(want string) bool {
	t, ok := p.params["type"]
	if !ok {
		return false
	}
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, want)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

// flattenAddress joins the non-empty components of an adr value. Component
// index 6 is the country by jCard convention.
func flattenAddress(p jCardProp) (addr, country string) {
	if len(p.values) == 0 {
		return "", ""
	}
	components, ok := p.values[0].([]any)
	if !ok {
		// Some registries emit adr as a bare string label.
		if s, sok := p.values[0].(string); sok {
			return s, ""
		}
		return "", ""
	}

	var parts []string
	for i, comp := range components {
		s, _ := comp.(string)
		if i == 6 {
			country = s
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", "), country
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, want) {
			return true
		}
	}
	return false
}

func nilIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
