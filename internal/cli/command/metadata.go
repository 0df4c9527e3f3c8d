package command

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
)

// agentActions are the actions advertised to cluster managers.
var agentActions = []string{"off", "on", "reboot", "status", "monitor", "list", "metadata", "validate-all"}

type agentMetadata struct {
	XMLName    xml.Name         `xml:"resource-agent"`
	Name       string           `xml:"name,attr"`
	ShortDesc  string           `xml:"shortdesc,attr"`
	LongDesc   string           `xml:"longdesc"`
	Parameters []agentParameter `xml:"parameters>parameter"`
	Actions    []agentAction    `xml:"actions>action"`
}

type agentParameter struct {
	Name      string       `xml:"name,attr"`
	Unique    int          `xml:"unique,attr"`
	Required  int          `xml:"required,attr"`
	Getopt    agentGetopt  `xml:"getopt"`
	Content   agentContent `xml:"content"`
	ShortDesc agentDesc    `xml:"shortdesc"`
}

type agentGetopt struct {
	Mixed string `xml:"mixed,attr"`
}

type agentContent struct {
	Type    string `xml:"type,attr"`
	Default string `xml:"default,attr,omitempty"`
}

type agentDesc struct {
	Lang string `xml:"lang,attr"`
	Text string `xml:",chardata"`
}

type agentAction struct {
	Name string `xml:"name,attr"`
}

// writeMetadata prints the agent description cluster managers read with
// action=metadata. Parameters mirror the requester's flags under their
// stdin names.
func writeMetadata(w io.Writer, app *cli.App) error {
	md := agentMetadata{
		Name:      app.Name,
		ShortDesc: app.Usage,
		LongDesc: app.Name + " asks a fencevirtd daemon to fence a virtual machine. " +
			"Requests travel over multicast, TCP, vsock or a serial channel and are " +
			"signed and authenticated with a shared key.",
	}
	for _, f := range app.Flags {
		md.Parameters = append(md.Parameters, parameterOf(f))
	}
	for _, a := range agentActions {
		md.Actions = append(md.Actions, agentAction{Name: a})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(md); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func parameterOf(f cli.Flag) agentParameter {
	names := f.Names()
	p := agentParameter{
		Name:    strings.ReplaceAll(names[0], "-", "_"),
		Content: agentContent{Type: "string"},
	}

	var opts []string
	for _, alias := range names[1:] {
		opts = append(opts, "-"+alias)
	}
	opts = append(opts, "--"+names[0])
	p.Getopt.Mixed = strings.Join(opts, ", ")

	switch f.(type) {
	case *cli.BoolFlag:
		p.Content.Type = "boolean"
	case *cli.IntFlag, *cli.UintFlag:
		p.Content.Type = "integer"
		p.Getopt.Mixed += " <value>"
	default:
		p.Getopt.Mixed += " <value>"
	}

	if d, ok := f.(cli.DocGenerationFlag); ok {
		p.ShortDesc = agentDesc{Lang: "en", Text: d.GetUsage()}
		if p.Content.Type != "boolean" {
			p.Content.Default = d.GetValue()
		}
	}
	return p
}

