// Package universe models the launcher environment service: an XML document
// listing the available universes and the CDN each one patches from.
package universe

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CdnInfo describes where a universe's patch tree is hosted.
type CdnInfo struct {
	PatcherURL string `xml:"PatcherUrl"`
	PatcherDir string `xml:"PatcherDir"`
	Secure     bool   `xml:"Secure"`
}

// PatcherBase returns the base URL of the patch tree, with a trailing slash.
func (c CdnInfo) PatcherBase() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/", scheme, c.PatcherURL, c.PatcherDir)
}

// Server is one universe.
type Server struct {
	Name    string  `xml:"Name"`
	CdnInfo CdnInfo `xml:"CdnInfo"`
}

// Environment is the environment-info document.
type Environment struct {
	XMLName xml.Name `xml:"Environment"`
	Servers []Server `xml:"Servers>Server"`
}

// ParseEnvironment parses the environment-info XML.
func ParseEnvironment(data []byte) (*Environment, error) {
	var env Environment
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse environment info: %w", err)
	}
	if len(env.Servers) == 0 {
		return nil, fmt.Errorf("environment info lists no universes")
	}
	return &env, nil
}

// Select picks a universe. A non-empty name selects by exact name; otherwise
// a single universe is chosen implicitly and multiple universes trigger a
// numbered prompt on in/out.
func (e *Environment) Select(name string, in io.Reader, out io.Writer) (*Server, error) {
	if name != "" {
		for i := range e.Servers {
			if e.Servers[i].Name == name {
				return &e.Servers[i], nil
			}
		}
		return nil, fmt.Errorf("universe %q not found", name)
	}
	if len(e.Servers) == 1 {
		return &e.Servers[0], nil
	}

	fmt.Fprintln(out, "Select a universe:")
	for i, s := range e.Servers {
		fmt.Fprintf(out, "  %d) %s\n", i+1, s.Name)
	}
	fmt.Fprint(out, "> ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read selection: %w", err)
		}
		return nil, fmt.Errorf("no universe selected")
	}
	choice, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || choice < 1 || choice > len(e.Servers) {
		return nil, fmt.Errorf("invalid selection %q", scanner.Text())
	}
	return &e.Servers[choice-1], nil
}
