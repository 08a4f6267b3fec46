package decode

import "testing"

func TestProviderString(t *testing.T) {
	tests := []struct {
		provider Provider
		want     string
	}{
		{ProviderAuto, "auto"},
		{ProviderOpenH264, "openh264"},
		{ProviderLibvpx, "libvpx"},
		{ProviderDAV1D, "dav1d"},
		{Provider(99), "unknown"},
	}

	for _, tc := range tests {
		if got := tc.provider.String(); got != tc.want {
			t.Errorf("Provider(%d).String() = %q, want %q", tc.provider, got, tc.want)
		}
	}
}

func TestProviderLicense(t *testing.T) {
	for _, p := range []Provider{ProviderOpenH264, ProviderLibvpx, ProviderDAV1D} {
		if got := p.License(); got != LicenseBSD {
			t.Errorf("%s.License() = %v, want BSD", p, got)
		}
	}
	if got := Provider(99).License(); got != LicenseGPL {
		t.Errorf("unknown provider License() = %v, want GPL", got)
	}
}

func TestLicense(t *testing.T) {
	if !LicenseBSD.Permissive() {
		t.Error("LicenseBSD.Permissive() = false")
	}
	if LicenseGPL.Permissive() {
		t.Error("LicenseGPL.Permissive() = true")
	}
	if got := LicenseBSD.String(); got != "BSD" {
		t.Errorf("LicenseBSD.String() = %q, want BSD", got)
	}
	if got := LicenseGPL.String(); got != "GPL" {
		t.Errorf("LicenseGPL.String() = %q, want GPL", got)
	}
	if got := License(9).String(); got != "unknown" {
		t.Errorf("License(9).String() = %q, want unknown", got)
	}
}

func TestProviderAvailableUnknown(t *testing.T) {
	if Provider(99).Available() {
		t.Error("unknown provider reported available")
	}
}
