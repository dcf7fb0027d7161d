package config

// Schema is the JSON schema for validating configuration files
const Schema = `{
    "$schema": "http://json-schema.org/draft-07/schema#",
    "type": "object",
    "properties": {
        "log_level": {
            "type": "string",
            "enum": ["debug", "info", "warn", "error"]
        },
        "log_format": {
            "type": "string",
            "enum": ["json", "console"]
        },
        "max_concurrent_cases": {
            "type": "integer",
            "minimum": 1
        },
        "workers": {
            "type": "integer",
            "minimum": 1
        },
        "storage": {
            "type": "object",
            "properties": {
                "compress": {"type": "boolean"},
                "keep_runs": {"type": "integer", "minimum": 0},
                "destinations": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "name": {
                                "type": "string",
                                "pattern": "^[a-zA-Z0-9_-]+$"
                            },
                            "type": {
                                "type": "string",
                                "enum": ["local", "s3", "backblaze", "ssh", "gcs", "azure"]
                            },
                            "enabled": {"type": "boolean"},
                            "options": {"type": "object"}
                        },
                        "required": ["name", "type", "options"]
                    }
                }
            },
            "required": ["destinations"]
        },
        "post": {
            "type": "object",
            "properties": {
                "endpoint": {"type": "string"},
                "max_request_size": {"type": "integer", "minimum": 1},
                "max_simul_requests": {"type": "integer", "minimum": 1},
                "requests_per_second": {"type": "number", "minimum": 0}
            }
        },
        "redis": {
            "type": "object",
            "properties": {
                "url": {"type": "string"},
                "queue": {"type": "string"},
                "max_attempts": {"type": "integer", "minimum": 1},
                "lease_seconds": {"type": "integer", "minimum": 1}
            }
        },
        "database": {
            "type": "object",
            "properties": {
                "driver": {"type": "string", "enum": ["postgres", "sqlite"]},
                "dsn": {"type": "string"},
                "pgpass_file": {"type": "string"}
            }
        },
        "api": {
            "type": "object",
            "properties": {
                "addr": {"type": "string"},
                "jwt_secret": {"type": "string"}
            }
        },
        "schedules": {
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "scraper": {
                        "type": "string",
                        "pattern": "^[a-zA-Z0-9_-]+$"
                    },
                    "interval": {
                        "type": "string",
                        "enum": ["hourly", "daily", "weekly", "monthly", "quarterly", "yearly"]
                    },
                    "mode": {
                        "type": "string",
                        "enum": ["all", "since_last"]
                    }
                },
                "required": ["scraper", "interval"]
            }
        },
        "scrapers": {
            "type": "object",
            "properties": {
                "ny": {
                    "type": "object",
                    "properties": {
                        "base_url": {"type": "string"},
                        "industries": {
                            "type": "array",
                            "items": {"type": "integer", "minimum": 1}
                        },
                        "use_browser": {"type": "boolean"},
                        "requests_per_second": {"type": "number", "minimum": 0}
                    }
                }
            }
        }
    },
    "required": ["storage"]
}`
