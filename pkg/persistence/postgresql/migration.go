package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflows table
			CREATE TABLE workflows (
				id BIGSERIAL PRIMARY KEY,
				guild_id VARCHAR(32) NOT NULL,
				name VARCHAR(100) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				command_type VARCHAR(16) NOT NULL CHECK (command_type IN ('slash', 'prefix')),
				command_name VARCHAR(64) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT false,
				version INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT workflows_guild_command_key UNIQUE (guild_id, command_type, command_name)
			);

			CREATE INDEX idx_workflows_guild_id ON workflows(guild_id);

			-- Create workflow_nodes table
			CREATE TABLE workflow_nodes (
				id BIGSERIAL PRIMARY KEY,
				workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				client_id VARCHAR(128) NOT NULL,
				node_type VARCHAR(16) NOT NULL CHECK (node_type IN ('trigger', 'condition', 'action', 'response')),
				node_data JSONB NOT NULL DEFAULT '{}',
				position_x INT NOT NULL DEFAULT 0,
				position_y INT NOT NULL DEFAULT 0,
				sort_order INT NOT NULL,
				CONSTRAINT workflow_nodes_client_key UNIQUE (workflow_id, client_id)
			);

			CREATE INDEX idx_workflow_nodes_workflow_id ON workflow_nodes(workflow_id);
		`,
	}
}
