package sifen

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// QRParams son los campos del QR en el orden exacto que exige el manual
// técnico v1.50. Los montos se transportan como texto tal cual figura en el
// XML firmado: el sello cHashQR se calcula sobre los strings crudos, por lo
// que cualquier normalización numérica rompería la verificación del lado SET.
type QRParams struct {
	CDC         string // atributo Id de <DE> (44 caracteres)
	FechaEmi    string // dFeEmiDE crudo, todavía sin hex-encodear
	RucReceptor string // dRucRec
	TotalGral   string // dTotGralOpe
	TotalIVA    string // dTotIVA
	Items       int    // cantidad de gCamItem
	DigestValue string // DigestValue de la firma, en base64 tal como se escribió
	CSCID       string // IdCSC
}

// BaseQuery arma el query string del QR, ampersand-separado y sin URL
// encoding. dFeEmiDE viaja hex-encodeado (bytes UTF-8 del texto crudo) y
// DigestValue viaja como hex de los bytes del propio string base64 — no de
// los bytes decodificados. Esa conversión es parte del contrato con SIFEN y
// debe reproducirse tal cual.
func (p QRParams) BaseQuery() string {
	fields := []string{
		"nVersion=" + Version,
		"Id=" + p.CDC,
		"dFeEmiDE=" + hex.EncodeToString([]byte(p.FechaEmi)),
		"dRucRec=" + p.RucReceptor,
		"dTotGralOpe=" + p.TotalGral,
		"dTotIVA=" + p.TotalIVA,
		"cItems=" + strconv.Itoa(p.Items),
		"DigestValue=" + hex.EncodeToString([]byte(p.DigestValue)),
		"IdCSC=" + p.CSCID,
	}
	return strings.Join(fields, "&")
}

// SealQuery calcula cHashQR = hex(SHA-256(query + csc)). El CSC se usa
// sin espacios en blanco alrededor.
func SealQuery(baseQuery, csc string) string {
	sum := sha256.Sum256([]byte(baseQuery + strings.TrimSpace(csc)))
	return hex.EncodeToString(sum[:])
}

// BuildQRURL compone la URL final: baseURL + query + "&cHashQR=" + sello.
// Es una función pura: mismos insumos, misma URL.
func BuildQRURL(baseURL string, p QRParams, csc string) string {
	q := p.BaseQuery()
	return baseURL + q + "&cHashQR=" + SealQuery(q, csc)
}
