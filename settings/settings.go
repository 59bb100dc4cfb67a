package settings

import (
	"time"

	"github.com/bsv-blockchain/go-chaincfg"
)

func NewSettings() *Settings {
	network := getString("spv_network", "mainnet")

	params, err := chaincfg.GetChainParams(network)
	if err != nil {
		panic(err)
	}

	return &Settings{
		ClientName:              getString("clientName", "teranode-spv"),
		LogLevel:                getString("logLevel", "INFO"),
		PrometheusListenAddress: getString("spv_prometheusListenAddress", ""),
		ChainCfgParams:          params,
		SPV: SPVSettings{
			Network:                 network,
			StaticPeers:             getMultiString("spv_staticPeers", "|", nil),
			MaxOutbound:             getInt("spv_maxOutbound", 4),
			MaxBanScore:             getInt("spv_maxBanScore", 100),
			MaxMessageSize:          getInt("spv_maxMessageSize", 32*1024*1024), // 32MB
			DecodeWorkers:           getInt("spv_decodeWorkers", 4),
			DecodeQueueSize:         getInt("spv_decodeQueueSize", 256),
			WakeupInterval:          getDuration("spv_wakeupInterval", 2*time.Minute),
			RequestTimeout:          getDuration("spv_requestTimeout", 30*time.Second),
			PruneInterval:           getDuration("spv_pruneInterval", 30*time.Minute),
			InactivityCheckInterval: getDuration("spv_inactivityCheckInterval", 5*time.Minute),
			InactivityTimeout:       getDuration("spv_inactivityTimeout", 10*time.Minute),
			HandshakeTimeout:        getDuration("spv_handshakeTimeout", 5*time.Minute),
			ConnectInterval:         getDuration("spv_connectInterval", 60*time.Second),
			SyncCheckInterval:       getDuration("spv_syncCheckInterval", 2*time.Minute),
			DialTimeout:             getDuration("spv_dialTimeout", 30*time.Second),
			SyncBlockThreshold:      getInt("spv_syncBlockThreshold", 50),
			LocatorDepth:            getInt("spv_locatorDepth", 500),
			KnownInvTTL:             getDuration("spv_knownInvTTL", 10*time.Minute),
			Proxy:                   getString("spv_proxy", ""),
			ProxyUser:               getString("spv_proxyUser", ""),
			ProxyPass:               getString("spv_proxyPass", ""),
			DNSResolver:             getString("spv_dnsResolver", ""),
			DNSTimeout:              getDuration("spv_dnsTimeout", 5*time.Second),
			DisableDNSSeed:          getBool("spv_disableDNSSeed", false),
			UserAgentName:           getString("spv_userAgentName", "teranode-spv"),
			UserAgentVersion:        getString("spv_userAgentVersion", "0.1.0"),
		},
	}
}
