package fixture

import "path/filepath"

// Builtins returns the browser-chrome pages shipped with the app, resolved
// against repoRoot. Their viewports match the windows they are shown in.
func Builtins(repoRoot string) []Case {
	ui := filepath.Join(repoRoot, "crates", "hiwave-app", "src", "ui")
	return []Case{
		{ID: "about", HTMLPath: filepath.Join(ui, "about.html"), Width: 800, Height: 600, Suite: "builtins"},
		{ID: "chrome_rustkit", HTMLPath: filepath.Join(ui, "chrome_rustkit.html"), Width: 1280, Height: 100, Suite: "builtins"},
		{ID: "new_tab", HTMLPath: filepath.Join(ui, "new_tab.html"), Width: 1280, Height: 800, Suite: "builtins"},
		{ID: "settings", HTMLPath: filepath.Join(ui, "settings.html"), Width: 1024, Height: 768, Suite: "builtins"},
		{ID: "shelf", HTMLPath: filepath.Join(ui, "shelf.html"), Width: 1280, Height: 120, Suite: "builtins"},
	}
}
