package settings

import (
	"time"

	"github.com/bsv-blockchain/go-chaincfg"
)

type SPVSettings struct {
	Network                 string
	StaticPeers             []string
	MaxOutbound             int
	MaxBanScore             int
	MaxMessageSize          int
	DecodeWorkers           int
	DecodeQueueSize         int
	WakeupInterval          time.Duration
	RequestTimeout          time.Duration
	PruneInterval           time.Duration
	InactivityCheckInterval time.Duration
	InactivityTimeout       time.Duration
	HandshakeTimeout        time.Duration
	ConnectInterval         time.Duration
	SyncCheckInterval       time.Duration
	DialTimeout             time.Duration
	SyncBlockThreshold      int
	LocatorDepth            int
	KnownInvTTL             time.Duration
	Proxy                   string
	ProxyUser               string
	ProxyPass               string
	DNSResolver             string
	DNSTimeout              time.Duration
	DisableDNSSeed          bool
	UserAgentName           string
	UserAgentVersion        string
}

type Settings struct {
	ClientName              string
	LogLevel                string
	PrometheusListenAddress string
	ChainCfgParams          *chaincfg.Params
	SPV                     SPVSettings
}
