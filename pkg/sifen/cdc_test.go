package sifen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCDC(t *testing.T) {
	cdc := strings.Repeat("0180012345", 4) + "6789"
	xml := `<rDE xmlns="` + NamespaceSIFEN + `"><DE Id="` + cdc + `"><dVerFor>150</dVerFor></DE></rDE>`
	assert.Equal(t, cdc, ExtractCDC(xml))
	assert.Len(t, ExtractCDC(xml), CDCLength)
}

func TestExtractCDCSinNamespace(t *testing.T) {
	// XMLs guardados por versiones anteriores pueden venir sin declaración
	// de namespace o envueltos en rLoteDE.
	assert.Equal(t, "ABC123", ExtractCDC(`<rLoteDE><rDE><DE Id="ABC123"/></rDE></rLoteDE>`))
}

func TestExtractCDCAusente(t *testing.T) {
	assert.Empty(t, ExtractCDC(`<rDE><DE><dVerFor>150</dVerFor></DE></rDE>`), "DE sin Id")
	assert.Empty(t, ExtractCDC(`<rDE><dVerFor>150</dVerFor></rDE>`), "sin tag DE")
	assert.Empty(t, ExtractCDC("no es xml"))
	assert.Empty(t, ExtractCDC(""))
}
