package fingerprint

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/stealth"
)

// ScriptsVersion identifies the init-script bundle. Bump it whenever a script
// body changes so logs can tell which evasions a session ran with.
const ScriptsVersion = "2024.12-1"

// Script is a named page-initialisation script. Scripts run in every new
// document before any site script.
type Script struct {
	Name   string
	Source string
}

// Names of the scripts in the bundle, in execution order.
const (
	ScriptStealth       = "stealth"
	ScriptWebdriver     = "webdriver"
	ScriptChromeRuntime = "chrome-runtime"
	ScriptPermissions   = "permissions"
	ScriptPlugins       = "plugins"
	ScriptLanguages     = "languages"
)

const webdriverJS = `(() => {
	Object.defineProperty(Navigator.prototype, 'webdriver', {
		get: () => undefined,
		configurable: true
	});
})();`

const chromeRuntimeJS = `(() => {
	if (!window.chrome) {
		Object.defineProperty(window, 'chrome', { value: {}, writable: true, configurable: true });
	}
	if (!window.chrome.runtime) {
		window.chrome.runtime = {};
	}
})();`

// The notifications query must answer with the real permission state instead
// of rejecting, which is what headless Chrome does.
const permissionsJS = `(() => {
	if (!window.navigator.permissions || !window.navigator.permissions.query) return;
	const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
	window.navigator.permissions.query = (parameters) => (
		parameters && parameters.name === 'notifications'
			? Promise.resolve({ state: Notification.permission, onchange: null })
			: originalQuery(parameters)
	);
})();`

const pluginsJS = `(() => {
	const fake = [
		{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
		{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
		{ name: 'Native Client', filename: 'internal-nacl-plugin', description: '' }
	];
	fake.item = (i) => fake[i] || null;
	fake.namedItem = (n) => fake.find(p => p.name === n) || null;
	fake.refresh = () => {};
	Object.defineProperty(Navigator.prototype, 'plugins', {
		get: () => fake,
		configurable: true
	});
})();`

// languagesJS is completed with a JSON array literal.
const languagesJS = `(() => {
	const langs = %s;
	Object.defineProperty(Navigator.prototype, 'languages', {
		get: () => langs.slice(),
		configurable: true
	});
})();`

// buildScripts assembles the bundle for the given language list.
func buildScripts(languages []string) []Script {
	langJSON, err := json.Marshal(languages)
	if err != nil {
		langJSON = []byte(`["en-US","en"]`)
	}
	return []Script{
		{Name: ScriptStealth, Source: stealth.JS},
		{Name: ScriptWebdriver, Source: webdriverJS},
		{Name: ScriptChromeRuntime, Source: chromeRuntimeJS},
		{Name: ScriptPermissions, Source: permissionsJS},
		{Name: ScriptPlugins, Source: pluginsJS},
		{Name: ScriptLanguages, Source: fmt.Sprintf(languagesJS, langJSON)},
	}
}
