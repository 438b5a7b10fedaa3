package wallet

// Injected is an object a wallet extension placed into the environment.
type Injected struct {
	Markers map[string]bool
	Adapter Adapter
}

// Environment resolves injected wallet objects by their dotted path,
// e.g. "phantom.solana".
type Environment interface {
	Lookup(path string) (Injected, bool)
}

// StaticEnvironment is an Environment backed by a fixed map.
type StaticEnvironment map[string]Injected

// Lookup implements Environment.
func (environment StaticEnvironment) Lookup(path string) (Injected, bool) {
	injected, found := environment[path]
	return injected, found
}

// Family describes how one wallet brand is detected.
type Family struct {
	Name       string
	IconURL    string
	Path       string
	Marker     string // empty means presence alone is enough
	InstallURL string
}

// InstallLink points at a wallet download page.
type InstallLink struct {
	Name string
	URL  string
}

// DefaultFamilies returns the supported browser wallets in discovery order.
func DefaultFamilies() []Family {
	return []Family{
		{Name: "Phantom", IconURL: "https://phantom.app/img/phantom-logo.svg", Path: "phantom.solana", Marker: "isPhantom", InstallURL: "https://phantom.app/download"},
		{Name: "Solflare", IconURL: "https://solflare.com/assets/logo.svg", Path: "solflare", Marker: "isSolflare", InstallURL: "https://solflare.com/download"},
		{Name: "Backpack", IconURL: "https://backpack.app/icon.png", Path: "backpack", Marker: "isBackpack", InstallURL: "https://backpack.app/download"},
		{Name: "Sollet", IconURL: "https://www.sollet.io/logo.svg", Path: "sollet", InstallURL: "https://www.sollet.io"},
	}
}

func (family Family) detect(environment Environment) (Provider, bool) {
	injected, found := environment.Lookup(family.Path)
	if !found || injected.Adapter == nil {
		return Provider{}, false
	}
	if family.Marker != "" && !injected.Markers[family.Marker] {
		return Provider{}, false
	}
	return Provider{Name: family.Name, IconURL: family.IconURL, Adapter: injected.Adapter}, true
}

// DiscoverProviders returns the families present in the environment, in family order.
func DiscoverProviders(environment Environment, families []Family) []Provider {
	if environment == nil {
		return nil
	}
	providers := make([]Provider, 0, len(families))
	for _, family := range families {
		if provider, ok := family.detect(environment); ok {
			providers = append(providers, provider)
		}
	}
	return providers
}

// InstallLinks lists download pages for families that publish one.
func InstallLinks(families []Family) []InstallLink {
	links := make([]InstallLink, 0, len(families))
	for _, family := range families {
		if family.InstallURL == "" {
			continue
		}
		links = append(links, InstallLink{Name: family.Name, URL: family.InstallURL})
	}
	return links
}
