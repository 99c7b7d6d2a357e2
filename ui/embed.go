package ui

import "embed"

// FS contains the shell surface assets embedded into the factudesk binary.
//
// Keeping the embed directive in the same folder as the assets avoids needing
// ".." paths (which go:embed disallows) and ensures the surfaces render
// regardless of the process working directory.
//
//go:embed splash.html error.html
var FS embed.FS
