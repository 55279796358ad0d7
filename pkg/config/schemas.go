package config

// configSchema mirrors Config. Every field is optional because Decode
// applies a file on top of Default.
const configSchema = `
#Duration: string & =~"^[0-9]"

#Config: {
	noop?: bool

	ldap?: {
		url?:                  =~"^ldap[si]?://"
		bind_dn?:              string
		bind_password?:        string
		user_base?:            string
		group_base?:           string
		connect_timeout?:      #Duration
		start_tls?:            bool
		insecure_skip_verify?: bool
		first_gid?:            int & >0
		group_description?:    string
		disabled_group?:       string & !=""
	}

	database?: {
		path?:              string & !=""
		max_open_conns?:    int & >=0
		max_idle_conns?:    int & >=0
		conn_max_lifetime?: #Duration
	}

	history?: {
		path?:      string
		retention?: #Duration
	}

	attributes?: {
		group?:      string & !=""
		quota?:      string & !=""
		filesystem?: string & !=""
		account?:    string & !=""
		usage?:      string & !=""
	}

	quota?: {
		resource?:   string & !=""
		default_gb?: number & >0
		binary?:     string
		sudo?:       bool
	}

	storage?: {
		provision?: bool
		sudo?:      bool
	}

	usage?: {
		resource?: string & !=""
		binary?:   string
	}

	policy?: {
		enabled?:          bool
		paths?:            [...string]
		watch?:            bool
		protected_groups?: [...string]
		max_quota_gb?:     number & >=0
		disabled?:         [...string]
	}

	filter?: {
		script?: string
		vars?: {[string]: _}
	}

	schedule?: {
		ldap_check?:   string
		quotas_check?: string
		slurm_usage?:  string
		sync?:         bool
	}

	telemetry?: {
		logging?: {
			level?:  "trace" | "debug" | "info" | "warn" | "error"
			format?: "console" | "json"
			output?: string
			caller?: bool
		}
		tracing?: {
			exporter?:      "none" | "stdout" | "otlp"
			endpoint?:      string
			sampling_rate?: number & >=0 & <=1
			insecure?:      bool
			headers?: {[string]: string}
		}
		metrics?: {
			enabled?:        bool
			listen_address?: string
			path?:           string
			textfile?:       string
		}
	}

	ssh?: {
		host?:                     string
		port?:                     int & >=0 & <=65535
		user?:                     string
		auth_method?:              "password" | "key" | "agent"
		password?:                 string
		private_key_path?:         string
		private_key_passphrase?:   string
		agent_socket?:             string
		known_hosts_path?:         string
		strict_host_key_checking?: bool
		connect_timeout?:          #Duration
		command_timeout?:          #Duration
		keep_alive_interval?:      #Duration
	}
}
`
