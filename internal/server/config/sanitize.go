package config

import "slices"

// Sanitize returns a copy of the config that is safe to log. Key material
// never appears in the configuration itself, only its path, so the copy
// hides the location of key files and the credentials of hypervisor URIs.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	s := *cfg
	s.Listener.Multicast.KeyFile = maskPath(s.Listener.Multicast.KeyFile)
	s.Listener.TCP.KeyFile = maskPath(s.Listener.TCP.KeyFile)
	s.Listener.Vsock.KeyFile = maskPath(s.Listener.Vsock.KeyFile)

	s.Backend.Virt.URIs = slices.Clone(cfg.Backend.Virt.URIs)
	for i, u := range s.Backend.Virt.URIs {
		s.Backend.Virt.URIs[i] = redactURI(u)
	}
	s.Backend.Group.Seeds = slices.Clone(cfg.Backend.Group.Seeds)
	s.HTTP.Allow = slices.Clone(cfg.HTTP.Allow)
	return &s
}

func maskPath(p string) string {
	if p == "" {
		return ""
	}
	return "****"
}
