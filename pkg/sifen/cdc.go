package sifen

import (
	"strings"

	"github.com/beevik/etree"
)

// CDCLength longitud del Código de Control de un documento electrónico.
const CDCLength = 44

// ExtractCDC recupera el CDC (atributo Id de la tag <DE>) de un XML firmado.
// La búsqueda es por nombre local, con o sin declaración de namespace, para
// tolerar XMLs guardados por versiones anteriores del sistema. Devuelve ""
// si la tag no existe o no trae Id.
func ExtractCDC(xmlAssinado string) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(strings.TrimSpace(xmlAssinado)); err != nil {
		return ""
	}
	root := doc.Root()
	if root == nil {
		return ""
	}
	de := findByLocalName(root, "DE")
	if de == nil {
		return ""
	}
	return de.SelectAttrValue("Id", "")
}

// findByLocalName busca en profundidad el primer elemento con ese nombre
// local, ignorando prefijos de namespace.
func findByLocalName(el *etree.Element, local string) *etree.Element {
	if el.Tag == local {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findByLocalName(child, local); found != nil {
			return found
		}
	}
	return nil
}
