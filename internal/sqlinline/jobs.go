package sqlinline

const QInsertJob = `--sql b1ec32ea-023e-42db-b954-41398546c1ea
insert into jobs(
  id,
  user_id,
  tool_id,
  prompt,
  cost,
  usage_log_id,
  status,
  created_at,
  updated_at
) values (
  gen_random_uuid(),
  $1::uuid,
  $2::text,
  $3::text,
  $4::int,
  nullif($5::text, '')::uuid,
  'pending',
  now(),
  now()
) returning id::text;
`

// QUpdateJobStatus only touches rows whose current status is one of $5, so a
// terminal job is never rewritten. Completing a job always clears the error.
const QUpdateJobStatus = `--sql 796a12e8-2c5b-4039-922e-b377958ddf28
update jobs
set status = $2::text,
    updated_at = now(),
    result_url = coalesce(nullif($3::text, ''), result_url),
    error_message = case
        when $2::text = 'completed' then null
        when nullif($4::text, '') is not null then $4::text
        else error_message
    end
where id = $1::uuid
  and status = any($5::text[]);
`

const QSelectJobOwner = `--sql 0bddc065-3340-4c0b-866d-e0b22db5b6b4
select user_id::text, status::text
from jobs
where id = $1::uuid;
`

const QSelectJobByID = `--sql dd74e645-b939-4022-bdd3-572fc4af811e
select
  id::text,
  user_id::text,
  tool_id,
  prompt,
  cost,
  usage_log_id::text,
  status,
  result_url,
  error_message,
  created_at,
  updated_at
from jobs
where id = $1::uuid;
`

const QJobQueuePosition = `--sql 6000db61-7b66-47c1-b504-7418b6d656f3
select 1 + (
  select count(*)
  from jobs ahead
  where ahead.status in ('pending', 'processing')
    and ahead.created_at < target.created_at
)::int
from jobs target
where target.id = $1::uuid;
`

// QListStuckJobs matches every owner when $1 is empty.
const QListStuckJobs = `--sql c74a197a-a9a8-4805-87ce-ce825634509a
select
  id::text,
  user_id::text,
  tool_id,
  prompt,
  cost,
  usage_log_id::text,
  status,
  result_url,
  error_message,
  created_at,
  updated_at
from jobs
where status = 'processing'
  and created_at < $2::timestamptz
  and ($1::text = '' or user_id::text = $1::text)
order by created_at asc;
`
