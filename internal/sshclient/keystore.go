package sshclient

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// KeyStore holds the credentials for one device as read from config.
type KeyStore struct {
	PrivateKeyPath string
	// Passphrase unlocks an encrypted private key.
	Passphrase string
	Password   string
	// KnownHostsPath enables host key checking when set.
	KnownHostsPath string
}

// AuthMethods returns public key auth first, then password, for whatever
// is configured.
func (k KeyStore) AuthMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if k.PrivateKeyPath != "" {
		key, err := os.ReadFile(k.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
		var signer ssh.Signer
		if k.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(k.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if k.Password != "" {
		methods = append(methods, ssh.Password(k.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no private key or password configured")
	}
	return methods, nil
}

// HostKeyCallback checks against known_hosts when configured. Without it
// any host key is accepted, which is how most e-readers on a USB network
// are reached.
func (k KeyStore) HostKeyCallback() (ssh.HostKeyCallback, error) {
	if k.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(k.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}
