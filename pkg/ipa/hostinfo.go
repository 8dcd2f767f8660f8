package ipa

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"gopkg.in/ini.v1"
)

// DefaultHostConfig is where ipa-client-install writes the client configuration.
const DefaultHostConfig = "/etc/ipa/default.conf"

// HostInfo is the identity of the machine joincheck runs on, as recorded in
// the IPA client configuration.
type HostInfo struct {
	Host      string
	Domain    string
	Realm     string
	Server    string
	XMLRPCURI string
}

// LoadHostInfo reads the [global] section of an IPA client configuration.
// host, domain and realm are required.
func LoadHostInfo(path string) (HostInfo, error) {
	if path == "" {
		path = DefaultHostConfig
	}

	f, err := ini.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return HostInfo{}, configError(fmt.Sprintf("identity config %s not found", path), err)
		}
		return HostInfo{}, configError(fmt.Sprintf("parse identity config %s", path), err)
	}

	sec, err := f.GetSection("global")
	if err != nil {
		return HostInfo{}, configError(fmt.Sprintf("identity config %s", path), err)
	}

	info := HostInfo{
		Host:      strings.TrimSpace(sec.Key("host").String()),
		Domain:    strings.TrimSpace(sec.Key("domain").String()),
		Realm:     strings.TrimSpace(sec.Key("realm").String()),
		Server:    strings.TrimSpace(sec.Key("server").String()),
		XMLRPCURI: strings.TrimSpace(sec.Key("xmlrpc_uri").String()),
	}

	var missing []string
	if info.Host == "" {
		missing = append(missing, "host")
	}
	if info.Domain == "" {
		missing = append(missing, "domain")
	}
	if info.Realm == "" {
		missing = append(missing, "realm")
	}
	if len(missing) > 0 {
		return HostInfo{}, configError(
			fmt.Sprintf("identity config %s: missing %s in [global]", path, strings.Join(missing, ", ")), nil)
	}

	return info, nil
}

// ServerURL returns the API base URL, https://<server>/ipa.
//
// override wins, then the host of xmlrpc_uri, then server.
func (h HostInfo) ServerURL(override string) (string, error) {
	server := override
	if server == "" && h.XMLRPCURI != "" {
		u, err := url.Parse(h.XMLRPCURI)
		if err != nil {
			return "", configError(fmt.Sprintf("invalid xmlrpc_uri %q", h.XMLRPCURI), err)
		}
		server = u.Host
	}
	if server == "" {
		server = h.Server
	}
	if server == "" {
		return "", configError("no IPA server configured: set ipa.server or server/xmlrpc_uri in the identity config", nil)
	}

	if strings.Contains(server, "://") {
		u, err := url.Parse(server)
		if err != nil {
			return "", configError(fmt.Sprintf("invalid server %q", server), err)
		}
		server = u.Host
	}
	return "https://" + server + "/ipa", nil
}
