// Carga del certificado del contribuyente desde .p12/.pfx (PKCS#12).

package sifen

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/facturapy/sifen-worker/internal/domain"
)

// LoadCertificate carga certificado y llave privada desde un archivo
// .p12/.pfx. El mismo tls.Certificate sirve para la firma XMLDSig y para la
// autenticación mTLS contra SIFEN: crypto/tls acepta el material en memoria,
// así que nunca se escriben llaves a disco.
func LoadCertificate(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: leer %s: %v", domain.ErrCredential, path, err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: decodificar p12 (¿passphrase correcta?): %v", domain.ErrCredential, err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LeafCertificate devuelve el certificado hoja parseado del bundle.
func LeafCertificate(cert tls.Certificate) (*x509.Certificate, error) {
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("%w: bundle sin certificado", domain.ErrCredential)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("%w: parsear certificado: %v", domain.ErrCredential, err)
	}
	return leaf, nil
}
