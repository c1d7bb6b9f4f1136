package sqlinline

const QSelectUserCredits = `--sql 4bfaa847-33dd-45b3-9824-32e874647dc3
select credits
from users
where id = $1::uuid;
`

// QDeductCredits debits only when the balance covers the amount; no row is
// returned otherwise.
const QDeductCredits = `--sql 60fe0861-7f7c-4f49-a7c8-0c66fef89cb1
with debited as (
  update users
  set credits = credits - $2::int,
      updated_at = now()
  where id = $1::uuid
    and credits >= $2::int
  returning id
)
insert into usage_logs(id, user_id, amount, description, created_at)
select gen_random_uuid(), debited.id, $2::int, $3::text, now()
from debited
returning id::text;
`

// QRefundCredits marks the usage log refunded and credits the user back in
// one statement. A log that is already refunded yields no row. The credited
// amount never exceeds what was deducted.
const QRefundCredits = `--sql f55a97db-2a6e-4456-8891-932c9a944d64
with refunded as (
  update usage_logs
  set refunded_at = now(),
      refund_description = $4::text
  where id = $1::uuid
    and user_id = $2::uuid
    and refunded_at is null
  returning user_id, least(amount, $3::int) as amount
)
update users u
set credits = u.credits + refunded.amount,
    updated_at = now()
from refunded
where u.id = refunded.user_id
returning refunded.amount;
`

const QSelectUsageLog = `--sql 5bac6f6d-29c1-4fae-a144-d21572b96468
select id::text, user_id::text, amount, description, refunded_at, created_at
from usage_logs
where id = $1::uuid;
`

// QGrantCredits tops a balance up outside any generation.
const QGrantCredits = `--sql b2644722-1954-41d9-97a6-dc7c7a041e67
update users
set credits = credits + $2::int,
    updated_at = now()
where id = $1::uuid
returning credits;
`
