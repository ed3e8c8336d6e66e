// Package assets embeds the client JavaScript and CSS
package assets

import (
	"embed"
	"io/fs"
)

//go:embed client/*
var clientFS embed.FS

const (
	// ClientJS is the client script's name under the asset prefix.
	ClientJS = "tour-client.js"
	// ClientCSS is the stylesheet's name under the asset prefix.
	ClientCSS = "tour-client.css"
)

// ClientFS returns the embedded client files
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetClientJS returns the browser script that mounts editors
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/" + ClientJS)
}

// GetClientCSS returns the tour stylesheet
func GetClientCSS() ([]byte, error) {
	return clientFS.ReadFile("client/" + ClientCSS)
}
