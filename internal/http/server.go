package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Visitor Beacon"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	return tls.X509KeyPair(certPEM, keyPEM)
}

type Server struct {
	logger    *logrus.Logger
	handler   http.Handler
	httpAddr  string
	httpsAddr string
}

// New serves handler on httpAddr and, when httpsAddr is set, on a TLS
// listener with a self-signed certificate.
func New(logger *logrus.Logger, handler http.Handler, httpAddr, httpsAddr string) *Server {
	return &Server{logger: logger, handler: handler, httpAddr: httpAddr, httpsAddr: httpsAddr}
}

// Run blocks until ctx is done or a listener fails, then shuts every
// listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return err
	}

	var httpsLn net.Listener
	if s.httpsAddr != "" {
		cert, err := generateSelfSignedCert()
		if err != nil {
			httpLn.Close()
			return err
		}
		httpsLn, err = tls.Listen("tcp", s.httpsAddr, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		if err != nil {
			httpLn.Close()
			return err
		}
	}

	return s.serve(ctx, httpLn, httpsLn)
}

func (s *Server) serve(ctx context.Context, listeners ...net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, ln := range listeners {
		if ln == nil {
			continue
		}
		srv := &http.Server{
			Handler:           s.handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		ln := ln

		g.Go(func() error {
			s.logger.WithField("addr", ln.Addr().String()).Info("Starting HTTP listener")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.logger.WithField("addr", ln.Addr().String()).Info("Shutting down HTTP listener")
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
