package sqlinline

// QSelectIntegrationToken reads a stored provider key.
const QSelectIntegrationToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from integration_tokens
where provider = $1::text
  and token <> '';
`

// QUpsertIntegrationToken replaces a provider key and records its
// fingerprint and rotation time in properties.
const QUpsertIntegrationToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into integration_tokens (provider, token, properties)
values (
  $1::text,
  $2::text,
  jsonb_build_object('fingerprint', $3::text, 'rotated_at', $4::timestamptz)
)
on conflict (provider) do update set
  token = excluded.token,
  properties = integration_tokens.properties || excluded.properties,
  updated_at = now();
`
