package stationxml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/seidata/curator/pkg/types"
)

// SupportedSchemaVersion is the only StationXML schema version accepted
// for submission.
const SupportedSchemaVersion = "1.0"

// dateLayouts are the timestamp forms seen in StationXML attributes.
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999Z07:00",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Header carries the fixed provenance elements injected into every
// per-station artifact.
type Header struct {
	Source  string
	Sender  string
	Module  string
	Created time.Time
}

// Artifact is one per-station document produced by splitting a
// submission. Hash is the SHA-256 of the canonical serialization of the
// artifact's Network element and identifies the artifact everywhere.
type Artifact struct {
	Network      types.Network
	Station      string
	Restricted   bool
	ChannelCount int
	Bytes        []byte
	Hash         string
}

// Parse decodes StationXML bytes into an element tree. Any decoding
// failure or an unexpected root element is a SchemaInvalid error.
func Parse(data []byte) (*Element, error) {
	var root Element
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, errDetail(KindSchemaInvalid, "%v", err)
	}
	if root.Name != "FDSNStationXML" {
		return nil, errDetail(KindSchemaInvalid, "unexpected root element %s", root.Name)
	}
	return &root, nil
}

// Split decomposes a multi-station submission into one artifact per
// (network, station) pair. The document is validated first; the first
// failing rule aborts the whole split.
func Split(data []byte, header Header) ([]*Artifact, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(root); err != nil {
		return nil, err
	}

	var artifacts []*Artifact
	for _, network := range root.All("Network") {
		netIdentity, restricted, err := NetworkAttrs(network)
		if err != nil {
			return nil, err
		}

		for _, station := range network.All("Station") {
			clone := cloneForStation(network, station)

			hash, err := HashNetwork(clone)
			if err != nil {
				return nil, err
			}

			doc := buildDocument(root, clone, header)
			docBytes, err := doc.Serialize()
			if err != nil {
				return nil, err
			}

			artifacts = append(artifacts, &Artifact{
				Network:      netIdentity,
				Station:      station.Attr("code"),
				Restricted:   restricted,
				ChannelCount: len(station.All("Channel")),
				Bytes:        append([]byte(xml.Header), docBytes...),
				Hash:         hash,
			})
		}
	}
	return artifacts, nil
}

// HashNetwork returns the lower-case hex SHA-256 of the canonical
// serialization of a Network element.
func HashNetwork(network *Element) (string, error) {
	canonical, err := network.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NetworkAttrs extracts the network identity and restricted flag from a
// Network element's attributes.
func NetworkAttrs(network *Element) (types.Network, bool, error) {
	identity := types.Network{Code: network.Attr("code")}

	start, err := parseDate(network.Attr("startDate"))
	if err != nil {
		return identity, false, errDetail(KindSchemaInvalid, "network %s: bad startDate: %v", identity.Code, err)
	}
	identity.Start = start

	if endAttr := network.Attr("endDate"); endAttr != "" {
		end, err := parseDate(endAttr)
		if err != nil {
			return identity, false, errDetail(KindSchemaInvalid, "network %s: bad endDate: %v", identity.Code, err)
		}
		identity.End = &end
	}

	restricted := network.Attr("restrictedStatus") == "closed"
	return identity, restricted, nil
}

// ParsePrototype reads a prototype StationXML document and returns its
// header-level definition. The prototype hash is computed over the
// canonical serialization of its single Network element.
func ParsePrototype(data []byte) (*types.Prototype, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, err
	}
	networks := root.All("Network")
	if len(networks) != 1 {
		return nil, errDetail(KindSchemaInvalid, "prototype must define exactly one network, found %d", len(networks))
	}

	network := networks[0]
	identity, restricted, err := NetworkAttrs(network)
	if err != nil {
		return nil, err
	}

	hash, err := HashNetwork(network)
	if err != nil {
		return nil, err
	}

	return &types.Prototype{
		Network:     identity,
		Restricted:  restricted,
		Description: network.ChildText("Description"),
		Hash:        hash,
	}, nil
}

// cloneForStation clones a Network element keeping every non-Station
// child plus the single given station.
func cloneForStation(network, station *Element) *Element {
	clone := &Element{
		Name:  network.Name,
		Attrs: append([]xml.Attr(nil), network.Attrs...),
		Text:  network.Text,
	}
	for _, child := range network.Children {
		if child.Name == "Station" {
			continue
		}
		clone.Children = append(clone.Children, child.Clone())
	}
	clone.Children = append(clone.Children, station.Clone())
	return clone
}

// buildDocument wraps a per-station Network element in a fresh
// FDSNStationXML root carrying the fixed provenance header.
func buildDocument(root, network *Element, header Header) *Element {
	doc := &Element{
		Name:  root.Name,
		Attrs: append([]xml.Attr(nil), root.Attrs...),
	}
	doc.Children = []*Element{
		{Name: "Source", Text: header.Source},
		{Name: "Sender", Text: header.Sender},
		{Name: "Module", Text: header.Module},
		{Name: "Created", Text: header.Created.UTC().Format("2006-01-02T15:04:05")},
		network,
	}
	return doc
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}
