package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RecordID is the canonical identity of a contratação: the organization CNPJ,
// the purchase year and the sequence number assigned by the portal.
type RecordID struct {
	CNPJ     string `json:"cnpj"`
	Year     int    `json:"ano"`
	Sequence int    `json:"seq"`
}

func (id RecordID) String() string {
	return fmt.Sprintf("%s/%d/%d", id.CNPJ, id.Year, id.Sequence)
}

// NoticeURL returns the public edital page for this contratação.
func (id RecordID) NoticeURL() string {
	return fmt.Sprintf("https://pncp.gov.br/app/editais/%s/%d/%d", id.CNPJ, id.Year, id.Sequence)
}

// ParseRecordID parses the "CNPJ/ANO/SEQ" form.
func ParseRecordID(raw string) (RecordID, error) {
	parts := make([]string, 0, 3)
	for _, part := range strings.Split(raw, "/") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) != 3 {
		return RecordID{}, fmt.Errorf("invalid record id %q: want CNPJ/ANO/SEQ", raw)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid year in record id %q: %w", raw, err)
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid sequence in record id %q: %w", raw, err)
	}
	return RecordID{CNPJ: parts[0], Year: year, Sequence: seq}, nil
}

// RecordIDFromControlNumber derives the identity from the numeroControlePNCP
// format "CNPJ-D-SEQUENCE/YEAR" (sequence is zero-padded by the portal).
func RecordIDFromControlNumber(raw string) (RecordID, error) {
	left, yearRaw, ok := strings.Cut(raw, "/")
	if !ok {
		return RecordID{}, fmt.Errorf("invalid control number %q: missing year", raw)
	}
	segments := strings.Split(left, "-")
	if len(segments) < 2 {
		return RecordID{}, fmt.Errorf("invalid control number %q: missing sequence", raw)
	}
	cnpj := strings.TrimSpace(segments[0])
	if cnpj == "" {
		return RecordID{}, fmt.Errorf("invalid control number %q: empty cnpj", raw)
	}
	seqRaw := strings.TrimLeft(strings.TrimSpace(segments[len(segments)-1]), "0")
	if seqRaw == "" {
		seqRaw = "0"
	}
	seq, err := strconv.Atoi(seqRaw)
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid sequence in control number %q: %w", raw, err)
	}
	year, err := strconv.Atoi(strings.TrimSpace(yearRaw))
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid year in control number %q: %w", raw, err)
	}
	return RecordID{CNPJ: cnpj, Year: year, Sequence: seq}, nil
}

// Organization is the orgaoEntidade block of a contratação.
type Organization struct {
	CNPJ string `json:"cnpj"`
	Name string `json:"razaoSocial"`
}

// Record is one contratação as returned by the consulta endpoint. Only the
// fields the harvester reads are mapped; everything else stays on the wire.
type Record struct {
	ControlNumber string        `json:"numeroControlePNCP"`
	Object        string        `json:"objetoCompra"`
	Year          int           `json:"anoCompra"`
	Sequence      int           `json:"sequencialCompra"`
	Organization  *Organization `json:"orgaoEntidade,omitempty"`
}

// ID derives the record identity, preferring the control number and falling
// back to the organization CNPJ plus year/sequence fields.
func (r Record) ID() (RecordID, error) {
	if strings.TrimSpace(r.ControlNumber) != "" {
		if id, err := RecordIDFromControlNumber(r.ControlNumber); err == nil {
			return id, nil
		}
	}
	if r.Organization != nil && strings.TrimSpace(r.Organization.CNPJ) != "" && r.Year > 0 {
		return RecordID{CNPJ: r.Organization.CNPJ, Year: r.Year, Sequence: r.Sequence}, nil
	}
	return RecordID{}, fmt.Errorf("record has no derivable identity (control=%q)", r.ControlNumber)
}
