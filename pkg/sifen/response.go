package sifen

import (
	"strings"

	"github.com/beevik/etree"
)

// Response envuelve una respuesta SOAP cruda de SIFEN para extraer campos
// puntuales. Las búsquedas son por nombre local, sin importar prefijos ni
// namespaces: los ambientes de test y producción no siempre serializan igual.
type Response struct {
	root *etree.Element
}

// ParseResponse parsea la respuesta cruda. Un cuerpo no parseable produce una
// respuesta vacía en la que toda búsqueda devuelve el default: los handlers
// tratan la ausencia de campos, no el error de parseo.
func ParseResponse(raw string) *Response {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return &Response{}
	}
	return &Response{root: doc.Root()}
}

// Text devuelve el texto (trim) del primer elemento con ese nombre local, o def.
func (r *Response) Text(local, def string) string {
	if r.root == nil {
		return def
	}
	found := findByLocalName(r.root, local)
	if found == nil {
		return def
	}
	if text := strings.TrimSpace(found.Text()); text != "" {
		return text
	}
	return def
}

// First devuelve el primer valor no vacío entre varios nombres locales, o def.
func (r *Response) First(def string, locals ...string) string {
	for _, local := range locals {
		if v := r.Text(local, ""); v != "" {
			return v
		}
	}
	return def
}

// StripDeclaration quita la declaración <?xml …?> inicial si existe y
// devuelve el resto sin whitespace en los bordes.
func StripDeclaration(xmlText string) string {
	trimmed := strings.TrimSpace(xmlText)
	if strings.HasPrefix(trimmed, "<?xml") {
		if end := strings.Index(trimmed, "?>"); end >= 0 {
			return strings.TrimSpace(trimmed[end+2:])
		}
	}
	return trimmed
}
