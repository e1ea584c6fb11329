// Package boot writes the client boot configuration, a single LDF record of
// typed key=value pairs separated by ",\r\n". Value types are encoded as a
// numeric tag: 0 string, 1 i32, 5 u32, 7 bool.
package boot

import (
	"fmt"
	"regexp"
	"strings"
)

// Config is the content of boot.cfg.
type Config struct {
	ServerName       string
	PatchServerIP    string
	PatchServerPort  int32
	AuthServerIP     string
	Logging          int32
	DataCenterID     uint32
	CPCode           int32
	AkamaiDLM        bool
	PatchServerDir   string
	UGCUse3DServices bool
	UGCServerIP      string
	UGCServerDir     string
	ManifestFile     string
	PassURL          string
	SignInURL        string
	SignUpURL        string
	RegisterURL      string
	CrashLogURL      string
	Locale           string
	TrackDiskUsage   bool
}

type ldfWriter struct {
	sb    strings.Builder
	first bool
	delim string
}

func newLDFWriter(delim string) *ldfWriter {
	return &ldfWriter{first: true, delim: delim}
}

func (w *ldfWriter) sep() {
	if w.first {
		w.first = false
		return
	}
	w.sb.WriteString(w.delim)
}

func (w *ldfWriter) writeString(key, value string) {
	w.sep()
	fmt.Fprintf(&w.sb, "%s=0:%s", key, value)
}

func (w *ldfWriter) writeI32(key string, value int32) {
	w.sep()
	fmt.Fprintf(&w.sb, "%s=1:%d", key, value)
}

func (w *ldfWriter) writeU32(key string, value uint32) {
	w.sep()
	fmt.Fprintf(&w.sb, "%s=5:%d", key, value)
}

func (w *ldfWriter) writeBool(key string, value bool) {
	w.sep()
	v := 0
	if value {
		v = 1
	}
	fmt.Fprintf(&w.sb, "%s=7:%d", key, v)
}

// Render serializes the config in the order the client expects.
func (c *Config) Render() string {
	w := newLDFWriter(",\r\n")
	w.writeString("SERVERNAME", c.ServerName)
	w.writeString("PATCHSERVERIP", c.PatchServerIP)
	w.writeI32("PATCHSERVERPORT", c.PatchServerPort)
	w.writeString("AUTHSERVERIP", c.AuthServerIP)
	w.writeI32("LOGGING", c.Logging)
	w.writeU32("DATACENTERID", c.DataCenterID)
	w.writeI32("CPCODE", c.CPCode)
	w.writeBool("AKAMAIDLM", c.AkamaiDLM)
	w.writeString("AKAMAIDLM", c.PatchServerDir)
	w.writeBool("UGCUSE3DSERVICES", c.UGCUse3DServices)
	w.writeString("UGCSERVERIP", c.UGCServerIP)
	w.writeString("UGCSERVERDIR", c.UGCServerDir)
	w.writeString("MANIFESTFILE", c.ManifestFile)
	w.writeString("PASSURL", c.PassURL)
	w.writeString("SIGNINURL", c.SignInURL)
	w.writeString("SIGNUPURL", c.SignUpURL)
	w.writeString("REGISTERURL", c.RegisterURL)
	w.writeString("CRASHLOGURL", c.CrashLogURL)
	w.writeString("LOCALE", c.Locale)
	w.writeBool("TRACK_DSK_USAGE", c.TrackDiskUsage)
	return w.sb.String()
}

var tokenPattern = regexp.MustCompile(`\{%([a-z]+)\}`)

// ResolveTokens substitutes {%installpath} in a configured path template.
// Unknown tokens expand to nothing.
func ResolveTokens(input, installPath string) string {
	return tokenPattern.ReplaceAllStringFunc(input, func(m string) string {
		name := tokenPattern.FindStringSubmatch(m)[1]
		if name == "installpath" {
			return installPath
		}
		return ""
	})
}
