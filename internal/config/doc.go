// Package config loads realm.json, the configuration file of the realm
// command.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "host": "0.0.0.0",
//	    "port": 7171,
//	    "readTimeout": "60s",
//	    "handshakeTimeout": "10s",
//	    "maxConnections": 5000,
//	    "serverName": "realm",
//	    "tickRate": 20
//	  },
//	  "scheduler": {
//	    "tickInterval": "50ms",
//	    "heartbeatTicks": 100
//	  },
//	  "admin": {
//	    "addr": "127.0.0.1:9171",
//	    "websocket": true
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "json"
//	  }
//	}
//
// Unset server fields keep the listener defaults. Command-line flags
// override the file.
package config
